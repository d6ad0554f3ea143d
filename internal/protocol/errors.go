package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Code 是对外暴露的错误码，取值沿用 errno 语义（负数）。
type Code int

const (
	CodeOK                Code = 0
	CodePermissionDenied  Code = -1
	CodeNotFound          Code = -2
	CodeIOError           Code = -5
	CodeBadHandle         Code = -9
	CodeNoSpace           Code = -12
	CodeServerUnavailable Code = -16
	CodeAlreadyExists     Code = -17
	CodeIsADirectory      Code = -21
	CodeInvalidArgument   Code = -22
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrIsADirectory      = errors.New("is a directory")
	ErrBadHandle         = errors.New("bad handle")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNoSpace           = errors.New("no space left in cache")
	ErrServerUnavailable = errors.New("server unavailable")
	ErrIO                = errors.New("i/o error")
)

type codeEntry struct {
	code Code
	name string
	err  error
}

var codeTable = []codeEntry{
	{CodeNotFound, "NOT_FOUND", ErrNotFound},
	{CodeAlreadyExists, "ALREADY_EXISTS", ErrAlreadyExists},
	{CodePermissionDenied, "PERMISSION_DENIED", ErrPermissionDenied},
	{CodeIsADirectory, "IS_A_DIRECTORY", ErrIsADirectory},
	{CodeBadHandle, "BAD_HANDLE", ErrBadHandle},
	{CodeInvalidArgument, "INVALID_ARGUMENT", ErrInvalidArgument},
	{CodeNoSpace, "NO_SPACE", ErrNoSpace},
	{CodeServerUnavailable, "SERVER_UNAVAILABLE", ErrServerUnavailable},
	{CodeIOError, "IO_ERROR", ErrIO},
}

// String 返回错误码的大写名称，例如 NOT_FOUND。
func (c Code) String() string {
	if c == CodeOK {
		return "OK"
	}
	for _, entry := range codeTable {
		if entry.code == c {
			return entry.name
		}
	}
	return fmt.Sprintf("CODE(%d)", int(c))
}

// Err 将错误码还原为对应的哨兵错误，CodeOK 返回 nil。
func (c Code) Err() error {
	if c == CodeOK {
		return nil
	}
	for _, entry := range codeTable {
		if entry.code == c {
			return entry.err
		}
	}
	return ErrIO
}

// CodeOf 把任意 error 映射为错误码；无法识别的错误一律视为 IO_ERROR。
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	for _, entry := range codeTable {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeIOError
}

// ParseCode 解析错误名称（大小写不敏感），未知名称返回 false。
func ParseCode(name string) (Code, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	if normalized == "OK" || normalized == "" {
		return CodeOK, true
	}
	for _, entry := range codeTable {
		if entry.name == normalized {
			return entry.code, true
		}
	}
	return CodeOK, false
}
