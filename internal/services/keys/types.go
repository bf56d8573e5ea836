package keys

import (
	"github.com/uilm/uilm-service/internal/db/models"
	"github.com/uilm/uilm-service/internal/validation"
)

// Messages returned to callers in place of storage error details.
const (
	MsgEmptyKeyList     = "Keys list cannot be null or empty."
	MsgEmptyKeyNames    = "KeyNames must not be empty."
	MsgRetrieveKeys     = "An error occurred while retrieving keys."
	MsgRetrieveTimeline = "An error occurred while retrieving the key timeline."
	MsgRetrieveHistory  = "An error occurred while retrieving generation history."
	MsgKeyNotFound      = "Key not found."
	MsgSaveFailed       = "An error occurred while saving the key."
	fieldItemID         = "ItemId"
	defaultPageSize     = 10
	maxPageSize         = 1000
)

// Result is the outcome of a single mutation.
type Result struct {
	Success bool                `json:"isSuccess"`
	ItemID  string              `json:"itemId,omitempty"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

func failed(field, message string) Result {
	return Result{Errors: map[string][]string{field: {message}}}
}

func invalid(errs validation.Errors) Result {
	return Result{Errors: errs.ToMap()}
}

// SaveResult is the outcome of SaveKey.
type SaveResult struct {
	Result
	Operation models.TimelineOperation `json:"operation,omitempty"`
	Key       *models.Key              `json:"key,omitempty"`
}

// BatchSaveResult is the outcome of SaveKeys. Success is true only when every
// item succeeded.
type BatchSaveResult struct {
	Success      bool         `json:"isSuccess"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	Results      []SaveResult `json:"results"`
}

// KeyQuery filters, sorts and pages GetKeys. PageNumber is zero based.
type KeyQuery struct {
	ModuleIDs             []string `json:"moduleIds" form:"moduleId"`
	SearchText            string   `json:"searchText" form:"searchText"`
	IsPartiallyTranslated *bool    `json:"isPartiallyTranslated" form:"isPartiallyTranslated"`
	MissingCulture        string   `json:"missingCulture" form:"missingCulture"`
	SortBy                string   `json:"sortBy" form:"sortBy"`
	SortDescending        bool     `json:"sortDescending" form:"sortDescending"`
	PageNumber            int      `json:"pageNumber" form:"pageNumber"`
	PageSize              int      `json:"pageSize" form:"pageSize"`
}

// GetKeysResponse is one page of keys.
type GetKeysResponse struct {
	TotalCount   int          `json:"totalCount"`
	Keys         []models.Key `json:"keys"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
}

// GetKeysByKeyNamesRequest looks keys up by name, optionally within one module.
type GetKeysByKeyNamesRequest struct {
	KeyNames []string `json:"keyNames"`
	ModuleID string   `json:"moduleId"`
}

// GetKeysByKeyNamesResponse carries the matched keys.
type GetKeysByKeyNamesResponse struct {
	Keys         []models.Key `json:"keys"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
}

// TimelineQuery pages the timeline, optionally for one key.
type TimelineQuery struct {
	KeyID      string `json:"keyId" form:"keyId"`
	PageNumber int    `json:"pageNumber" form:"pageNumber"`
	PageSize   int    `json:"pageSize" form:"pageSize"`
}

// TimelineResponse is one page of timeline entries, newest first.
type TimelineResponse struct {
	TotalCount   int                  `json:"totalCount"`
	Items        []models.KeyTimeline `json:"items"`
	ErrorMessage string               `json:"errorMessage,omitempty"`
}

// HistoryQuery pages generation history. A nil Scope returns every run.
type HistoryQuery struct {
	Scope      *models.ModuleScope `json:"moduleId"`
	PageNumber int                 `json:"pageNumber"`
	PageSize   int                 `json:"pageSize"`
}

// HistoryResponse is one page of generation runs, newest first.
type HistoryResponse struct {
	TotalCount   int                                    `json:"totalCount"`
	Items        []models.LanguageFileGenerationHistory `json:"items"`
	ErrorMessage string                                 `json:"errorMessage,omitempty"`
}

// TranslateAllRequest triggers machine translation of every key.
type TranslateAllRequest struct {
	DefaultLanguage string `json:"defaultLanguage"`
	CorrelationID   string `json:"messageCoRelationId"`
}

// ExportRequest asks for a packaged export of generated files.
type ExportRequest struct {
	ModuleIDs  []string `json:"appIds"`
	Languages  []string `json:"languages"`
	OutputType string   `json:"outputType"`
}

// pageBounds normalises a zero based page into limit and offset.
func pageBounds(pageNumber, pageSize int) (limit, offset int) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if pageNumber < 0 {
		pageNumber = 0
	}
	return pageSize, pageNumber * pageSize
}
