package events

import "fmt"

// toolMotivations maps built-in tool names to the short user-facing reason
// shown while the tool runs.
var toolMotivations = map[string]string{
	"read_file":             "读取文件内容",
	"terminal":              "执行终端命令",
	"python_repl":           "执行 Python 代码",
	"search_knowledge_base": "搜索知识库",
	"memory_search":         "搜索记忆",
	"memory_write":          "写入记忆",
	"fetch_url":             "获取网页内容",
	"plan_create":           "创建任务计划",
}

// nodeMotivations maps graph node names to the reason shown for LLM calls
// issued from that node.
var nodeMotivations = map[string]string{
	"agent":      "调用大模型进行推理",
	"executor":   "执行计划步骤",
	"replanner":  "评估是否需要调整计划",
	"summarizer": "生成计划执行总结",
}

// ToolMotivation returns the display motivation for a tool call.
func ToolMotivation(tool string) string {
	if m, ok := toolMotivations[tool]; ok {
		return m
	}
	return fmt.Sprintf("调用工具：%s", tool)
}

// NodeMotivation returns the display motivation for an LLM call from a node.
func NodeMotivation(node string) string {
	if m, ok := nodeMotivations[node]; ok {
		return m
	}
	return "调用大模型处理请求"
}
