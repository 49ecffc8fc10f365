package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"OpportunitiesService/internal/model"
)

// Сообщения, которые показываются, если сервер не прислал своего текста
const (
	MsgSaveFailed   = "Failed to save opportunity"
	MsgDeleteFailed = "Failed to delete opportunity"
	MsgListFailed   = "Failed to load opportunities"
)

// SubmitError: ошибка запроса к серверу: сетевая (Status == 0) или прикладная
type SubmitError struct {
	Status  int
	Message string
	Err     error
}

func (e *SubmitError) Error() string {
	return e.Message
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// envelope: формат ответов административного API
type envelope struct {
	Success       bool                `json:"success"`
	Opportunity   *model.Opportunity  `json:"opportunity,omitempty"`
	Opportunities []model.Opportunity `json:"opportunities,omitempty"`
	Error         string              `json:"error,omitempty"`
}

// HTTPBackend обращается к административному API сервиса
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBackend создаёт клиента. client == nil означает http.DefaultClient
func NewHTTPBackend(baseURL string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPBackend{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

// List возвращает записи, новые первыми
func (b *HTTPBackend) List(ctx context.Context) ([]model.Opportunity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/admins/opportunities", nil)
	if err != nil {
		return nil, err
	}
	env, err := b.do(req, MsgListFailed)
	if err != nil {
		return nil, err
	}
	if env.Opportunities == nil {
		return []model.Opportunity{}, nil
	}
	return env.Opportunities, nil
}

// Submit отправляет форму одним multipart-запросом и сообщает процент отправленных байт
func (b *HTTPBackend) Submit(ctx context.Context, in model.SubmitInput, onProgress func(int)) (*model.Opportunity, error) {
	body, contentType, err := encodeMultipart(in)
	if err != nil {
		return nil, &SubmitError{Message: MsgSaveFailed, Err: err}
	}
	size := int64(body.Len())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/admins/opportunities",
		newProgressReader(body, size, onProgress))
	if err != nil {
		return nil, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", contentType)
	env, err := b.do(req, MsgSaveFailed)
	if err != nil {
		return nil, err
	}
	return env.Opportunity, nil
}

// Delete удаляет запись по id
func (b *HTTPBackend) Delete(ctx context.Context, id string) error {
	payload, _ := json.Marshal(map[string]string{"id": id})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/admins/opportunities-delete", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = b.do(req, MsgDeleteFailed)
	return err
}

// Search возвращает результат серверного поиска по position/description
func (b *HTTPBackend) Search(ctx context.Context, q string) ([]model.Opportunity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		b.baseURL+"/api/admins/opportunities?q="+url.QueryEscape(q), nil)
	if err != nil {
		return nil, err
	}
	env, err := b.do(req, MsgListFailed)
	if err != nil {
		return nil, err
	}
	return env.Opportunities, nil
}

func (b *HTTPBackend) do(req *http.Request, fallback string) (*envelope, error) {
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &SubmitError{Message: fallback, Err: err}
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &SubmitError{Status: resp.StatusCode, Message: fallback, Err: err}
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = fallback
		}
		return nil, &SubmitError{Status: resp.StatusCode, Message: msg}
	}
	return &env, nil
}

// encodeMultipart упаковывает текстовые поля и файл в одно тело
func encodeMultipart(in model.SubmitInput) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	fields := [][2]string{
		{"position", in.Position},
		{"description", in.Description},
		{"link", in.Link},
		{"isEdit", strconv.FormatBool(in.IsEdit)},
	}
	if in.IsEdit {
		fields = append(fields, [2]string{"id", in.ID})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if in.Image != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, in.Image.Name))
		ct := in.Image.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(part, in.Image.Reader); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
