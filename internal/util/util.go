package util

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// SafeInvoke runs fn such that panics are recovered and nice error messages are constructed
func SafeInvoke(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if anErr, ok := r.(error); ok {
				err = fmt.Errorf("%s panic: %w\n%s", name, anErr, GetTrace())
			} else {
				err = fmt.Errorf("%s panic: %v\n%s", name, r, GetTrace())
			}
		}
	}()
	err = fn()
	return
}

// GetTrace produces the string representation of a stack trace
func GetTrace() string {
	var name, file string
	var line int
	var pc [16]uintptr
	var res strings.Builder
	n := runtime.Callers(3, pc[:])
	for _, pc := range pc[:n] {
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		file, line = fn.FileLine(pc)
		name = fn.Name()
		if !strings.HasPrefix(name, "runtime.") {
			fmt.Fprintf(&res, "%s\n\t%s:%d\n", name, file, line)
		}
	}
	return res.String()
}

// FormatMultiError formats multierrors for logging
func FormatMultiError(merrs []error) string {
	var res strings.Builder
	fmt.Fprintf(&res, "%d error(s) occurred:\n", len(merrs))
	for i := 0; i < len(merrs); i++ {
		fmt.Fprintf(&res, "\t* %v\n", merrs[i])
	}
	return res.String()
}

// MergeErrors combines errs into a single multierror, ignoring nils. It returns nil if no error remains.
func MergeErrors(errs ...error) error {
	var merr *multierror.Error
	for _, err := range errs {
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if merr == nil {
		return nil
	}
	merr.ErrorFormat = FormatMultiError
	return merr
}
