package logger

import "log"

// InitLogger 设置标准日志格式
func InitLogger(prefix string) {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if prefix != "" {
		log.SetPrefix("[" + prefix + "] ")
	}
	log.Printf("Logger initialized")
}
