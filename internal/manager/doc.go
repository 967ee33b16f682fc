// Package manager 实现请求分发器：每条用户消息先覆盖写入管理者会话，
// 若券商会话存在待确认交易则直接交给券商智能体，否则交给通用推理循环。
package manager
