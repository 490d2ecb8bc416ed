package tool

import (
	"context"

	"github.com/hupe1980/memorymesh/search"
)

// SearchToolName is the name of the web search tool.
const SearchToolName = "web_search"

// DefaultMaxResults is used when the model omits max_results.
const DefaultMaxResults = 3

// SearchArgs is the web_search payload.
type SearchArgs struct {
	Queries    []string `json:"queries" jsonschema_description:"搜索关键词列表, 建议针对同一个问题提供 2-3 个不同侧重点的关键词"`
	MaxResults int      `json:"max_results,omitempty" jsonschema_description:"每个关键词返回的结果数量 (建议 3-5)"`
}

// Searcher runs a batch of queries and returns deduplicated hits.
type Searcher interface {
	Search(ctx context.Context, queries []string, maxResults int) ([]search.Result, error)
}

// NewSearchTool creates web_search on top of s.
func NewSearchTool(s Searcher) *FunctionTool[SearchArgs] {
	return NewFunctionTool(SearchToolName,
		"高效的网络搜索工具, 支持并发查询和结果去重。用于最新信息、实时数据、新闻事件或不确定的信息。",
		func(ctx context.Context, in SearchArgs) (string, error) {
			if in.MaxResults <= 0 {
				in.MaxResults = DefaultMaxResults
			}
			results, err := s.Search(ctx, in.Queries, in.MaxResults)
			if err != nil {
				return "", err
			}
			return search.Format(results), nil
		})
}
