// Package httptool 把声明式描述的 REST 接口包装成工具。
//
// 智能体用到的每个供应商接口（行情、下单、搜索、代码仓库与视频）都是 YAML
// 目录中的一项。引擎负责校验参数、按需把名称解析为供应商 ID、发送请求，
// 并把 JSON 响应整理成 tool.Result，因此每一项都遵守同一套信封约定。
package httptool
