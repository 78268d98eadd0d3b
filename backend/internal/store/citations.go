package store

import "regexp"

// 正文中的引用标记：[[CITE:chunkId]]
var citePattern = regexp.MustCompile(`\[\[CITE:(\w+)\]\]`)

// ExtractCitations 按首次出现的顺序返回去重后的引用 id
func ExtractCitations(body string) []string {
	ids := []string{}
	seen := make(map[string]struct{})
	for _, m := range citePattern.FindAllStringSubmatch(body, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		ids = append(ids, m[1])
	}
	return ids
}
