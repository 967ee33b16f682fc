// Package builtin 提供不依赖外部服务的本地工具：文档摘要与工作区文件操作。
package builtin
