package session

import "time"

// Options 音频通道配置选项
type Options struct {
	HandshakeTimeout time.Duration // 握手超时时间
	ReadTimeout      time.Duration // 读取超时时间，收到pong或消息时顺延
	WriteTimeout     time.Duration // 写入超时时间
	PingInterval     time.Duration // Ping间隔
	CloseGrace       time.Duration // 发送关闭帧的超时时间
}

// DefaultOptions 默认通道选项
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     30 * time.Second,
		PingInterval:     30 * time.Second,
		CloseGrace:       2 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = def.HandshakeTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = def.ReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = def.PingInterval
	}
	if o.CloseGrace <= 0 {
		o.CloseGrace = def.CloseGrace
	}
	// 读超时须大于ping间隔
	if o.ReadTimeout <= o.PingInterval {
		o.ReadTimeout = 2 * o.PingInterval
	}
	return o
}
