package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	http "github.com/bogdanfinn/fhttp"
)

// LibraryFunction is a command library as served by both the public market
// and the private cloud.
type LibraryFunction struct {
	ID        int      `json:"id"`
	UUID      string   `json:"uuid"`
	Name      string   `json:"name"`
	Content   string   `json:"content"`
	Author    Author   `json:"author"`
	Note      string   `json:"note"`
	Tags      []string `json:"tags"`
	Version   string   `json:"version"`
	CreatedAt string   `json:"created_at"`
	Preview   string   `json:"preview"`
	LikeCount int      `json:"like_count"`
	IsLiked   bool     `json:"is_liked"`

	// Only set for private libraries.
	HasPublicVersion bool `json:"hasPublicVersion"`
	IsPublish        bool `json:"isPublish"`
}

// Author decodes either a bare name or an object carrying a "name" field.
type Author string

func (a *Author) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*a = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Author(s)
	case data[0] == '{':
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*a = Author(obj.Name)
	default:
		*a = ""
	}
	return nil
}

type FunctionPage struct {
	Functions  []*LibraryFunction `json:"list"`
	PageNum    int                `json:"pageNum"`
	PageSize   int                `json:"pageSize"`
	TotalCount int                `json:"total"`
}

// PublicQuery filters the public library listing. Empty fields are omitted.
type PublicQuery struct {
	Page      int
	PerPage   int
	Search    string
	Author    string
	Tags      string
	Sort      string
	AndroidID string
}

func (q PublicQuery) values() url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(max(q.Page, 1)))
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	v.Set("per_page", strconv.Itoa(perPage))
	for key, val := range map[string]string{
		"search":     q.Search,
		"author":     q.Author,
		"tags":       q.Tags,
		"sort":       q.Sort,
		"android_id": q.AndroidID,
	} {
		if val != "" {
			v.Set(key, val)
		}
	}
	return v
}

type UploadResponse struct {
	ID         int                `json:"id"`
	UUID       string             `json:"uuid"`
	Functions  []*LibraryFunction `json:"functions"`
	BackupFile string             `json:"backup_file"`
}

type LikeResponse struct {
	Action    string `json:"action"`
	LikeCount int    `json:"like_count"`
}

type Quota struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// =============================================================================
// Public market
// =============================================================================

func (a *LabAPI) PublicLibraries(ctx context.Context, q PublicQuery) (*FunctionPage, error) {
	return callJSON[FunctionPage](ctx, a, http.MethodGet, "library", q.values(), nil)
}

func (a *LabAPI) PublicLibrary(ctx context.Context, id int, androidID string) (*LibraryFunction, error) {
	var q url.Values
	if androidID != "" {
		q = url.Values{"android_id": {androidID}}
	}
	return callJSON[LibraryFunction](ctx, a, http.MethodGet, "library/detail/"+strconv.Itoa(id), q, nil)
}

func (a *LabAPI) LibraryByKey(ctx context.Context, userKey string) (*LibraryFunction, error) {
	return callJSON[LibraryFunction](ctx, a, http.MethodGet, "function/key/"+userKey, nil, nil)
}

func (a *LabAPI) UploadPublic(ctx context.Context, content string) (*UploadResponse, error) {
	body := map[string]string{"content": content}
	return callJSON[UploadResponse](ctx, a, http.MethodPost, "upload", nil, body)
}

func (a *LabAPI) UpdatePublic(ctx context.Context, id int, content, authKey string) (*UploadResponse, error) {
	body := map[string]string{"content": content, "auth_key": authKey}
	return callJSON[UploadResponse](ctx, a, http.MethodPut, "function/"+strconv.Itoa(id), nil, body)
}

func (a *LabAPI) DeletePublic(ctx context.Context, id int, authKey string) error {
	body := map[string]string{"auth_key": authKey}
	_, err := callJSON[struct{}](ctx, a, http.MethodDelete, "function/"+strconv.Itoa(id), nil, body)
	return err
}

func (a *LabAPI) Like(ctx context.Context, id int, androidID string) (*LikeResponse, error) {
	body := map[string]string{"android_id": androidID}
	return callJSON[LikeResponse](ctx, a, http.MethodPost, "function/"+strconv.Itoa(id)+"/like", nil, body)
}

// =============================================================================
// Private cloud (bearer token required)
// =============================================================================

func (a *LabAPI) MyLibraries(ctx context.Context, pageNum, pageSize int) (*FunctionPage, error) {
	q := url.Values{
		"type":     {"1"},
		"pageNum":  {strconv.Itoa(max(pageNum, 1))},
		"pageSize": {strconv.Itoa(pageSize)},
	}
	if pageSize <= 0 {
		q.Set("pageSize", "100")
	}
	return callJSON[FunctionPage](ctx, a, http.MethodGet, "library", q, nil)
}

func (a *LabAPI) PrivateLibrary(ctx context.Context, id int) (*LibraryFunction, error) {
	return callJSON[LibraryFunction](ctx, a, http.MethodGet, "library/detail/"+strconv.Itoa(id), nil, nil)
}

// UploadLibrary stores content as a private draft; publishing goes through Release.
func (a *LabAPI) UploadLibrary(ctx context.Context, content string) (string, error) {
	body := struct {
		Content   string `json:"content"`
		IsPublish bool   `json:"is_publish"`
	}{Content: content}
	resp, err := callJSON[struct {
		UUID string `json:"uuid"`
	}](ctx, a, http.MethodPost, "library/upload", nil, body)
	if err != nil {
		return "", err
	}
	return resp.UUID, nil
}

// Release publishes a private library; specialCode is a verified CAPTCHA correlation id.
func (a *LabAPI) Release(ctx context.Context, id int, specialCode string) error {
	body := map[string]string{"special_code": specialCode}
	_, err := callJSON[struct{}](ctx, a, http.MethodPost, "library/"+strconv.Itoa(id)+"/release", nil, body)
	return err
}

// Sync pushes a private library to its public copy (server-limited to 3/hour).
func (a *LabAPI) Sync(ctx context.Context, id int) error {
	_, err := callJSON[struct{}](ctx, a, http.MethodPost, "library/"+strconv.Itoa(id)+"/sync", nil, struct{}{})
	return err
}

func (a *LabAPI) DeleteLibrary(ctx context.Context, id int) error {
	_, err := callJSON[struct{}](ctx, a, http.MethodDelete, "library/"+strconv.Itoa(id), nil, nil)
	return err
}

func (a *LabAPI) Quota(ctx context.Context) (*Quota, error) {
	return callJSON[Quota](ctx, a, http.MethodGet, "library/quota", nil, nil)
}
