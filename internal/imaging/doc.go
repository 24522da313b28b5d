// Package imaging 定义缓存层与下载层共享的图片类型，以及对外部编解码能力的抽象。
//
// 核心模块只依赖 Codec 接口：磁盘命中或下载完成后通过 Decode 得到 Image，
// 需要落盘但调用方未提供原始字节时通过 Encode 生成字节。默认实现 StdCodec
// 基于标准库 image 包与 golang.org/x/image，支持的格式通过 Register 注册。
package imaging
