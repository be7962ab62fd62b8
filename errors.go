package fat

import (
	"io/fs"
	"strconv"
)

type diskresult int

const (
	drOK             diskresult = iota // Successful
	drError                            // R/W error
	drWriteProtected                   // Write protected
	drNotReady                         // Not ready
	drParError                         // Invalid parameter
)

// fr converts a device result to the filesystem result reported to callers.
func (dr diskresult) fr() fileResult {
	switch dr {
	case drOK:
		return frOK
	case drWriteProtected:
		return frWriteProtected
	case drNotReady:
		return frNotReady
	case drParError:
		return frInvalidParameter
	}
	return frDiskErr
}

type fileResult int

const (
	frOK               fileResult = iota // succeeded
	frDiskErr                            // a hard error occurred in the low level disk I/O layer
	frIntErr                             // assertion failed or structure corrupted
	frNotReady                           // the physical drive cannot work
	frNoFile                             // could not find the file
	frNoPath                             // could not find the path
	frInvalidName                        // the path name format is invalid
	frDenied                             // access denied due to prohibited access
	frExist                              // object with the same name already exists
	frInvalidObject                      // the file/directory object is invalid
	frWriteProtected                     // the physical drive is write protected
	frInvalidDrive                       // the logical drive number is invalid
	frNoFilesystem                       // there is no valid FAT volume
	frMkfsAborted                        // the format was aborted
	frInvalidParameter                   // given parameter is invalid
	frUnsupported                        // filesystem variant is not supported
	frNotADirectory                      // a path segment is not a directory
	frDirNotEmpty                        // the directory is not empty
	frDirFull                            // the directory cannot hold more entries
	frDiskFull                           // no free clusters
	frAlreadyMounted                     // the drive is already mounted
	frChainLoop                          // cluster chain is cyclic or links to a free cluster
)

var frMessages = [...]string{
	frOK:               "ok",
	frDiskErr:          "disk I/O error",
	frIntErr:           "internal error or corrupted structure",
	frNotReady:         "drive not ready",
	frNoFile:           "file not found",
	frNoPath:           "path not found",
	frInvalidName:      "invalid name",
	frDenied:           "access denied",
	frExist:            "file exists",
	frInvalidObject:    "invalid file or directory handle",
	frWriteProtected:   "write protected",
	frInvalidDrive:     "invalid drive",
	frNoFilesystem:     "no valid FAT volume",
	frMkfsAborted:      "format aborted",
	frInvalidParameter: "invalid parameter",
	frUnsupported:      "unsupported filesystem",
	frNotADirectory:    "not a directory",
	frDirNotEmpty:      "directory not empty",
	frDirFull:          "directory full",
	frDiskFull:         "disk full",
	frAlreadyMounted:   "drive already mounted",
	frChainLoop:        "corrupt cluster chain",
}

func (fr fileResult) Error() string {
	if fr >= 0 && int(fr) < len(frMessages) {
		return "fat: " + frMessages[fr]
	}
	return "fat.fr:" + strconv.Itoa(int(fr))
}

// Is reports whether fr belongs to the broader error class of target.
// Equal values are matched by errors.Is before Is is consulted.
func (fr fileResult) Is(target error) bool {
	if t, ok := target.(fileResult); ok {
		switch fr {
		case frNoPath:
			return t == frNoFile
		case frInvalidName, frInvalidDrive, frMkfsAborted:
			return t == frInvalidParameter
		case frIntErr, frChainLoop:
			return t == frNoFilesystem
		}
		return false
	}
	switch target {
	case fs.ErrNotExist:
		return fr == frNoFile || fr == frNoPath
	case fs.ErrExist:
		return fr == frExist
	case fs.ErrPermission:
		return fr == frDenied || fr == frWriteProtected
	case fs.ErrClosed:
		return fr == frInvalidObject
	case fs.ErrInvalid:
		return fr == frInvalidParameter || fr == frInvalidName
	}
	return false
}

// err returns nil for frOK and fr otherwise.
func (fr fileResult) err() error {
	if fr == frOK {
		return nil
	}
	return fr
}

// Errors returned by the package. They may be compared with errors.Is.
var (
	ErrIO                error = frDiskErr
	ErrWriteProtected    error = frWriteProtected
	ErrNotReady          error = frNotReady
	ErrCorruptVolume     error = frNoFilesystem
	ErrCorruptChain      error = frChainLoop
	ErrNotFound          error = frNoFile
	ErrAlreadyExists     error = frExist
	ErrNotADirectory     error = frNotADirectory
	ErrDirectoryNotEmpty error = frDirNotEmpty
	ErrDirectoryFull     error = frDirFull
	ErrDiskFull          error = frDiskFull
	ErrInvalidParameter  error = frInvalidParameter
	ErrInvalidName       error = frInvalidName
	ErrInvalidHandle     error = frInvalidObject
	ErrAlreadyMounted    error = frAlreadyMounted
	ErrDenied            error = frDenied
	ErrUnsupported       error = frUnsupported
)
