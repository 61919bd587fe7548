// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"docqa-go/internal/apperr"
	"docqa-go/internal/config"
	"docqa-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// NewClient 根据配置创建 Elasticsearch 客户端。创建本身不访问网络。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		CloudID:  esCfg.CloudID,
		APIKey:   esCfg.APIKey,
		Username: esCfg.Username,
		Password: esCfg.Password,
	}
	if esCfg.CloudID == "" {
		for _, addr := range strings.Split(esCfg.Addresses, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				cfg.Addresses = append(cfg.Addresses, addr)
			}
		}
	}
	if esCfg.SkipTLSVerify {
		cfg.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, apperr.Config("无效的 Elasticsearch 配置: %v", err)
	}
	return client, nil
}

type fieldMapping struct {
	Type string `json:"type"`
	Dims int    `json:"dims"`
}

type indexMapping struct {
	Mappings struct {
		Properties map[string]fieldMapping `json:"properties"`
	} `json:"mappings"`
}

// CheckIndex 确认索引存在且向量字段为指定维度的 dense_vector。
// 网络或服务端故障返回 upstream_unavailable，索引缺失或映射不符返回 config_error。
// 只读检查：数据写入由外部的索引流程负责，这里不会创建索引。
func CheckIndex(ctx context.Context, client *elasticsearch.Client, indexName, vectorField string, dims int) error {
	res, err := client.Indices.GetMapping(
		client.Indices.GetMapping.WithContext(ctx),
		client.Indices.GetMapping.WithIndex(indexName),
	)
	if err != nil {
		log.Errorf("[ES] 获取索引 '%s' 映射失败: %v", indexName, err)
		return apperr.Unavailable(err, "elasticsearch unreachable")
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return apperr.Config("index %q does not exist", indexName)
	}
	if res.IsError() {
		log.Errorf("[ES] 获取索引 '%s' 映射时 Elasticsearch 返回错误: %s", indexName, res.String())
		return apperr.Unavailable(nil, "elasticsearch returned %s", res.Status())
	}

	// 索引名可能是别名，响应中按真实索引名分组
	var body map[string]indexMapping
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return apperr.Unavailable(err, "failed to decode mapping response")
	}
	if len(body) == 0 {
		return apperr.Config("index %q has no mapping", indexName)
	}
	for name, m := range body {
		field, ok := m.Mappings.Properties[vectorField]
		if !ok {
			return apperr.Config("index %q has no field %q", name, vectorField)
		}
		if field.Type != "dense_vector" {
			return apperr.Config("field %q in index %q is %q, want dense_vector", vectorField, name, field.Type)
		}
		if field.Dims != dims {
			return apperr.Config("field %q in index %q has dims %d, embedding model produces %d", vectorField, name, field.Dims, dims)
		}
	}
	log.Infof("[ES] 索引 '%s' 检查通过, 向量字段: %s, 维度: %d", indexName, vectorField, dims)
	return nil
}

// ErrorReason 提取 Elasticsearch 错误响应中的 reason，失败时返回状态行。
func ErrorReason(status string, body []byte) string {
	var e struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Error.Reason == "" {
		return status
	}
	return fmt.Sprintf("%s: %s", e.Error.Type, e.Error.Reason)
}
