package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeMessagingError     ErrorCode = "COMMON_015"
	ErrCodeStorageError       ErrorCode = "COMMON_016"
)

// Aliases
const (
	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeNotFound     = ErrCodeNotFound
	CodeConflict     = ErrCodeConflict
	CodeOK           = ErrorCode("OK")
	CodeUnknown      = ErrorCode("UNKNOWN")
)

// Spatial Index Error Codes
const (
	ErrCodeInvalidCoordinate   ErrorCode = "SPT_001"
	ErrCodeInvalidResolution   ErrorCode = "SPT_002"
	ErrCodeUnknownJurisdiction ErrorCode = "SPT_003"
	ErrCodeInvalidCategory     ErrorCode = "SPT_004"
	ErrCodeInvalidSeverity     ErrorCode = "SPT_005"
	ErrCodeInvalidCell         ErrorCode = "SPT_006"
)

// Risk Scorer Error Codes
const (
	ErrCodeInvalidWeights ErrorCode = "RSK_001"
	ErrCodeInvalidTarget  ErrorCode = "RSK_002"
)

// Hotspot Error Codes
const (
	ErrCodeInvalidClusterParams ErrorCode = "HOT_001"
	ErrCodeInvalidSeries        ErrorCode = "HOT_002"
	ErrCodeInvalidWindow        ErrorCode = "HOT_003"
)

// Forecast Error Codes
const (
	ErrCodeInvalidHorizon          ErrorCode = "FCT_001"
	ErrCodeInvalidTransitionMatrix ErrorCode = "FCT_002"
	ErrCodeInvalidForecastParams   ErrorCode = "FCT_003"
)

// Patrol Error Codes
const (
	ErrCodeInvalidRouteParams ErrorCode = "PTR_001"
	ErrCodeInvalidCandidate   ErrorCode = "PTR_002"
)

// Allocation Error Codes
const (
	ErrCodeEmptyObjectives  ErrorCode = "ALC_001"
	ErrCodeUnknownObjective ErrorCode = "ALC_002"
	ErrCodeInvalidZone      ErrorCode = "ALC_003"
	ErrCodeInvalidResource  ErrorCode = "ALC_004"
)

// Snapshot / Engine Error Codes
const (
	ErrCodeSnapshotUnavailable ErrorCode = "SNP_001"
	ErrCodeSnapshotLoadFailed  ErrorCode = "SNP_002"
	ErrCodeEngineNotFound      ErrorCode = "SNP_003"
)

// ErrorCodeHTTPStatus maps every code to the HTTP status returned by the API.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeMessagingError:     http.StatusInternalServerError,
	ErrCodeStorageError:       http.StatusInternalServerError,

	ErrCodeInvalidCoordinate:   http.StatusBadRequest,
	ErrCodeInvalidResolution:   http.StatusBadRequest,
	ErrCodeUnknownJurisdiction: http.StatusBadRequest,
	ErrCodeInvalidCategory:     http.StatusBadRequest,
	ErrCodeInvalidSeverity:     http.StatusBadRequest,
	ErrCodeInvalidCell:         http.StatusBadRequest,

	ErrCodeInvalidWeights: http.StatusBadRequest,
	ErrCodeInvalidTarget:  http.StatusBadRequest,

	ErrCodeInvalidClusterParams: http.StatusBadRequest,
	ErrCodeInvalidSeries:        http.StatusBadRequest,
	ErrCodeInvalidWindow:        http.StatusBadRequest,

	ErrCodeInvalidHorizon:          http.StatusBadRequest,
	ErrCodeInvalidTransitionMatrix: http.StatusBadRequest,
	ErrCodeInvalidForecastParams:   http.StatusBadRequest,

	ErrCodeInvalidRouteParams: http.StatusBadRequest,
	ErrCodeInvalidCandidate:   http.StatusBadRequest,

	ErrCodeEmptyObjectives:  http.StatusBadRequest,
	ErrCodeUnknownObjective: http.StatusBadRequest,
	ErrCodeInvalidZone:      http.StatusBadRequest,
	ErrCodeInvalidResource:  http.StatusBadRequest,

	ErrCodeSnapshotUnavailable: http.StatusServiceUnavailable,
	ErrCodeSnapshotLoadFailed:  http.StatusServiceUnavailable,
	ErrCodeEngineNotFound:      http.StatusNotFound,
}

// HTTPStatusForCode returns the HTTP status for code, 500 when unmapped.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// IsClientError reports whether code maps to a 4xx status.
func IsClientError(code ErrorCode) bool {
	s := HTTPStatusForCode(code)
	return s >= 400 && s < 500
}

// IsServerError reports whether code maps to a 5xx status.
func IsServerError(code ErrorCode) bool {
	return HTTPStatusForCode(code) >= 500
}

// ModuleForCode returns the module prefix of code ("SPT", "RSK", ...).
func ModuleForCode(code ErrorCode) string {
	s := string(code)
	if i := strings.IndexByte(s, '_'); i > 0 {
		return s[:i]
	}
	return ""
}
