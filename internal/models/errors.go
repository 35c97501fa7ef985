package models

import "errors"

var (
	// ErrDealNotFound 交易记录不存在
	ErrDealNotFound = errors.New("deal not found")

	// ErrDealExists 交易ID已存在（主键冲突）
	ErrDealExists = errors.New("deal already exists")

	// ErrNoFiles 文件夹中没有文件
	ErrNoFiles = errors.New("no files found in the specified folder")

	// ErrInvalidFolderID 文件夹ID为空
	ErrInvalidFolderID = errors.New("folder id cannot be empty")

	// ErrInvalidDealStatus 无效的交易状态
	ErrInvalidDealStatus = errors.New("invalid deal status")
)
