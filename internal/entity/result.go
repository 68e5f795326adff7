package entity

import "github.com/jgivc/copytodownload/internal/common"

type Success struct {
	ID   string `json:"id,omitempty"`
	Path string `json:"path"`
}

type Failure struct {
	Kind    common.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// CopyResult holds exactly one of Success or Failure.
type CopyResult struct {
	success *Success
	failure *Failure
}

func NewSuccess(id, path string) CopyResult {
	return CopyResult{success: &Success{ID: id, Path: path}}
}

func NewFailure(kind common.ErrorKind, message string) CopyResult {
	return CopyResult{failure: &Failure{Kind: kind, Message: message}}
}

// FailureFromError builds a Failure using the kind carried by err.
func FailureFromError(err error) CopyResult {
	return NewFailure(common.KindOf(err), err.Error())
}

func (r CopyResult) Success() (Success, bool) {
	if r.success == nil {
		return Success{}, false
	}

	return *r.success, true
}

func (r CopyResult) Failure() (Failure, bool) {
	if r.failure == nil {
		return Failure{}, false
	}

	return *r.failure, true
}

func (r CopyResult) OK() bool {
	return r.success != nil
}
