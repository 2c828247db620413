package analyzer

import (
	"fmt"
	"strings"

	"github.com/spherical/paper-whisperer/internal/domain"
)

func chunkPrompt(c Chunk) string {
	return fmt.Sprintf(`请分析这部分论文内容（第 %s 页），提取以下信息：
1. 主要内容概述（2-3句话）
2. 关键概念和技术术语
3. 重要数据、图表或结果
4. 与论文其他部分的关联

请用中文回答，语言专业但易懂。如果这部分以图表为主，请说明图表的内容和含义。

页面文本：`, c.Pages())
}

func keyInfoPrompt(firstPages string) string {
	return `请从以下论文内容中提取关键信息，以 JSON 格式返回：

{
    "title": "论文标题",
    "authors": ["作者1", "作者2"],
    "abstract": "摘要内容",
    "keywords": ["关键词1", "关键词2"],
    "main_contributions": ["贡献1", "贡献2"],
    "methodology": "研究方法概述",
    "main_results": "主要结果",
    "conclusions": "结论"
}

论文前几页内容：
` + firstPages + `

只返回 JSON，不要输出其他文字。`
}

func summaryPrompt(info domain.KeyInfo, analyses string) string {
	return fmt.Sprintf(`基于以下信息，写一篇论文的深度解读摘要（500-800字）：

关键信息：
标题: %s
摘要: %s
主要贡献: %s
研究方法: %s
主要结果: %s

分段分析：
%s

请用中文撰写，语言专业但通俗易懂，适合科普文章。`,
		info.Title,
		info.Abstract,
		strings.Join(info.MainContributions, ", "),
		info.Methodology,
		info.MainResults,
		analyses)
}
