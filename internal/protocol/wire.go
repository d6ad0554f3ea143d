package protocol

// ErrorResponse 是两个 HTTP 面共用的错误体。
type ErrorResponse struct {
	Error string `json:"error"`
	Code  Code   `json:"code"`
}

// PathRequest 用于只需要路径参数的 RPC。
type PathRequest struct {
	Path string `json:"path"`
}

// BlockRequest 请求 Descriptor 分块表中的第 Block 块。
type BlockRequest struct {
	Block      int        `json:"block"`
	Descriptor Descriptor `json:"descriptor"`
}

// UnlinkResponse 携带服务端 unlink 的结果码。
type UnlinkResponse struct {
	Result Code `json:"result"`
}

// LastModifiedResponse 是 getLastModified 的应答，纳秒精度。
type LastModifiedResponse struct {
	Path         string `json:"path"`
	LastModified int64  `json:"last_modified"`
}

// OpenRequest 是客户端 open 调用。
type OpenRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
}

// OpenResponse 返回句柄编号。
type OpenResponse struct {
	FD int `json:"fd"`
}

// SeekRequest 是客户端 lseek 调用。
type SeekRequest struct {
	Offset int64  `json:"offset"`
	Whence string `json:"whence"`
}

// SeekResponse 返回新的绝对位置。
type SeekResponse struct {
	Position int64 `json:"position"`
}

// WriteResponse 返回实际写入字节数。
type WriteResponse struct {
	Written int `json:"written"`
}

// ResultResponse 用于 close/unlink 这类只返回 0 的调用。
type ResultResponse struct {
	Result int `json:"result"`
}
