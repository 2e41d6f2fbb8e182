package model

// CodeError describes what is wrong with a box code, if anything.
type CodeError string

// Code errors.
const (
	CodeErrorNone          CodeError = "none"
	CodeErrorEmpty         CodeError = "empty"
	CodeErrorAlreadyExists CodeError = "already_exists"
)
