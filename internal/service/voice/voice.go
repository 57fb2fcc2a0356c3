// Package voice 提供语音能力的窄接口以及火山引擎的具体实现。
// 识别与合成各自只有一个方法，后端在进程启动时选定，不在调用点分派。
package voice

import "context"

// Transcriber 将一段完整的音频转写为文本。
//
// 实现必须返回可区分的错误供调用方记录；转写管线自身会把失败降级为
// "空转写"（静默跳过该轮），不会中断会话。
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format, language string) (string, error)
}

// SynthesisStream 是一次合成产生的惰性音频块序列：有限、有序、不可重放。
// 中途失败时序列提前结束，已经取出的音频不会被收回。
//
// 流底下持有到供应商的活动连接，任何退出路径都必须调用 Close。
type SynthesisStream interface {
	// Recv 返回下一块音频；序列结束时返回 io.EOF。
	Recv() ([]byte, error)
	Close() error
}

// Synthesizer 把文本合成为流式音频。
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice, language string) (SynthesisStream, error)
}
