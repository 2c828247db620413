package content

import (
	"fmt"
	"strings"

	"github.com/spherical/paper-whisperer/internal/domain"
)

func paperFacts(a *domain.Analysis) string {
	k := a.KeyInfo
	return fmt.Sprintf(`标题: %s
作者: %s
摘要: %s
主要贡献: %s
研究方法: %s
主要结果: %s`,
		a.Title(),
		strings.Join(k.Authors, ", "),
		k.Abstract,
		strings.Join(k.MainContributions, ", "),
		k.Methodology,
		k.MainResults)
}

func articlePrompt(a *domain.Analysis) string {
	return fmt.Sprintf(`基于以下论文分析结果，撰写一篇适合公众号发布的科普文章正文（Markdown 格式）。

要求：
1. 开头用引人入胜的引言带出问题
2. 内容通俗易懂，尽量少用专业术语
3. 使用二级、三级小标题分段
4. 突出论文的创新点和应用价值
5. 结尾给出总结和思考
6. 不要重复输出文章总标题，标题会单独排版

论文信息：
%s

深度解读摘要：
%s`, paperFacts(a), a.Summary)
}

func notePrompt(a *domain.Analysis) string {
	return fmt.Sprintf(`基于以下论文分析结果，撰写一篇适合小红书发布的笔记正文（Markdown 格式）。

要求：
1. 开头一句吸引人的 hook
2. 使用要点列表，每个要点前加 emoji
3. 语言轻松活泼，同时保持专业
4. 控制在 500-800 字
5. 结尾加上互动引导（例如"你觉得呢？"）
6. 不要输出标题和话题标签，它们会单独排版

论文信息：
%s

深度解读摘要：
%s`, paperFacts(a), a.Summary)
}

func structuredNotePrompt(a *domain.Analysis) string {
	return fmt.Sprintf(`基于以下论文分析结果，生成小红书笔记卡片的结构化内容，以 JSON 格式返回：

{
    "title": "吸引人的标题（可含emoji）",
    "hook": "开头吸引人的一句话",
    "key_points": ["要点1（可含emoji）", "要点2（可含emoji）"],
    "highlight": "核心亮点（1-2句话）",
    "conclusion": "总结和互动引导"
}

论文信息：
%s

深度解读摘要：
%s

只返回 JSON，不要输出其他文字。`, paperFacts(a), a.Summary)
}
