package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// OpenFields 提供客户端/路径/模式字段，供代理 open/close 日志复用。
func OpenFields(clientID, path, mode string) logrus.Fields {
	return logrus.Fields{
		"client_id": clientID,
		"path":      path,
		"mode":      mode,
	}
}

// SessionFields 描述服务端会话锁的状态变化。
func SessionFields(action, path, state string) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"path":   path,
		"state":  state,
	}
}

// CacheFields 描述缓存目录中的单个本地文件。
func CacheFields(action, serverPath, localName string, size int64) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"path":       serverPath,
		"local_name": localName,
		"size":       size,
	}
}
