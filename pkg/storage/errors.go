package storage

import "errors"

// ErrNotFound 表示对象不存在。
var ErrNotFound = errors.New("object not found")
