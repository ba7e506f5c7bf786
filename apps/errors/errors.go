// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package errors holds the error types returned by the cache packages.
//
// Read paths never return storage failures: unreadable entries are logged and treated
// as absent. The errors below surface caller mistakes and write failures.
package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/kylelemons/godebug/pretty"
)

var prettyConf = &pretty.Config{IncludeUnexported: false, SkipZeroFields: true, TrackCycles: true}

type verboser interface {
	Verbose() string
}

// Verbose prints the most verbose error that the error message has.
func Verbose(err error) string {
	var v verboser
	if errors.As(err, &v) {
		return v.Verbose()
	}
	return err.Error()
}

// New is equivalent to errors.New().
func New(text string) error {
	return errors.New(text)
}

// ErrNotFound is returned by lookups whose target does not exist.
var ErrNotFound = errors.New("not found")

// InvalidArgumentError is returned when a caller passes a nil or empty required argument.
// It indicates a programming error, not transient storage noise.
type InvalidArgumentError struct {
	// Op is the operation that rejected the argument.
	Op string
	// Arg names the offending argument.
	Arg string
}

func (e InvalidArgumentError) Error() string {
	return fmt.Sprintf("%s: argument %q must not be nil or empty", e.Op, e.Arg)
}

// InvalidArgument returns an InvalidArgumentError for op and arg.
func InvalidArgument(op, arg string) error {
	return InvalidArgumentError{Op: op, Arg: arg}
}

// StorageError wraps a failure of a flat record store.
type StorageError struct {
	Op    string
	Store string
	Key   string
	Err   error
}

func (e StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %s: %s", e.Store, e.Op, e.Err)
	}
	return fmt.Sprintf("store %s: %s %q: %s", e.Store, e.Op, e.Key, e.Err)
}

func (e StorageError) Unwrap() error {
	return e.Err
}

// Verbose prints the error with its full context.
func (e StorageError) Verbose() string {
	return fmt.Sprintf("%s:\n%s", e.Err, prettyConf.Sprint(e))
}

// BatchError reports a best-effort batch write in which some records failed.
// Records listed in Written were persisted and stay persisted: a batch is not a
// transaction, so a failed batch can leave e.g. an account without its tokens.
type BatchError struct {
	Written []string
	Errs    *multierror.Error
}

func (e *BatchError) Error() string {
	return e.Errs.Error()
}

func (e *BatchError) Unwrap() error {
	return e.Errs.ErrorOrNil()
}

// Verbose prints the error with the keys that were written.
func (e *BatchError) Verbose() string {
	return fmt.Sprintf("%s\n\twritten: %s", e.Error(), prettyConf.Sprint(e.Written))
}

// NewBatchError returns nil when errs holds no errors, otherwise a *BatchError.
func NewBatchError(written []string, errs *multierror.Error) error {
	if errs.ErrorOrNil() == nil {
		return nil
	}
	errs.ErrorFormat = listFormat
	return &BatchError{Written: written, Errs: errs}
}

// Join aggregates errs into one error with multierror, skipping nils.
// It returns nil when every err is nil.
func Join(errs ...error) error {
	var merr *multierror.Error
	for _, err := range errs {
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if merr == nil {
		return nil
	}
	merr.ErrorFormat = listFormat
	return merr
}

func listFormat(es []error) string {
	if len(es) == 1 {
		return es[0].Error()
	}
	msgs := make([]string, 0, len(es))
	for _, err := range es {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d errors occurred: %s", len(es), strings.Join(msgs, "; "))
}
