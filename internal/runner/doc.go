// Package runner 实现通用的多工具推理循环：把一条用户消息交给大模型，
// 执行模型请求的工具调用并把结果回填，直到模型给出最终回答或达到步数上限。
// 每次模型输出与每批工具结果都记录为一个 Turn。
package runner
