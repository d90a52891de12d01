package processor

import "strings"

// 新闻类社区的金融相关性关键词：公司名、代码、金融术语
var financialKeywords = []string{
	"tesla", "apple", "microsoft", "google", "amazon", "meta", "nvidia", "bitcoin", "ethereum", "bullish",
	"tsla", "aapl", "msft", "googl", "amzn", "nvda", "btc", "eth", "blsh",
	"stock", "shares", "earnings", "revenue", "profit", "market", "trading", "investment", "crypto", "ipo",
}

// RelevanceFilter 子串匹配的关键词过滤器，大小写不敏感
type RelevanceFilter struct {
	keywords []string
}

// NewRelevanceFilter 不传关键词时使用内置的金融关键词
func NewRelevanceFilter(keywords ...string) RelevanceFilter {
	if len(keywords) == 0 {
		keywords = financialKeywords
	}
	lower := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lower = append(lower, k)
		}
	}
	return RelevanceFilter{keywords: lower}
}

// Relevant 任一文本包含任一关键词即视为相关
func (f RelevanceFilter) Relevant(texts ...string) bool {
	text := strings.ToLower(strings.Join(texts, " "))
	for _, k := range f.keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
