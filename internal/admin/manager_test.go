package admin

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"OpportunitiesService/internal/model"
)

// fakeBackend: заглушка административного API с полями-функциями
type fakeBackend struct {
	listFn   func(ctx context.Context) ([]model.Opportunity, error)
	submitFn func(ctx context.Context, in model.SubmitInput, onProgress func(int)) (*model.Opportunity, error)
	deleteFn func(ctx context.Context, id string) error
	submits  int
}

func (f *fakeBackend) List(ctx context.Context) ([]model.Opportunity, error) {
	if f.listFn == nil {
		return []model.Opportunity{}, nil
	}
	return f.listFn(ctx)
}

func (f *fakeBackend) Submit(ctx context.Context, in model.SubmitInput, onProgress func(int)) (*model.Opportunity, error) {
	f.submits++
	return f.submitFn(ctx, in, onProgress)
}

func (f *fakeBackend) Delete(ctx context.Context, id string) error {
	return f.deleteFn(ctx, id)
}

var testResolver = model.ImageResolver{BaseURL: "https://s", Bucket: "opportunity-images"}

func sample() []model.Opportunity {
	return []model.Opportunity{
		{ID: "2", Position: "Backend Intern", Description: "Go services", Image: model.StringPtr("images/2.png"), Link: model.StringPtr("https://apply")},
		{ID: "1", Position: "Volunteer", Description: "Community events"},
	}
}

func TestManager_RefreshAndSearch(t *testing.T) {
	m := NewManager(&fakeBackend{listFn: func(context.Context) ([]model.Opportunity, error) { return sample(), nil }}, testResolver)
	require.Empty(t, m.Items())
	require.NoError(t, m.Refresh(context.Background()))
	require.Len(t, m.Items(), 2)

	m.SetSearch("COMMUNITY")
	vis := m.Visible()
	require.Len(t, vis, 1)
	require.Equal(t, "1", vis[0].ID)

	// ссылка и путь изображения в поиске не участвуют
	m.SetSearch("apply")
	require.Empty(t, m.Visible())
	m.SetSearch("")
	require.Len(t, m.Visible(), 2)
}

func TestManager_OpenEdit(t *testing.T) {
	m := NewManager(&fakeBackend{listFn: func(context.Context) ([]model.Opportunity, error) { return sample(), nil }}, testResolver)
	require.NoError(t, m.Refresh(context.Background()))

	require.NoError(t, m.OpenEdit("2"))
	f := m.Form()
	require.Equal(t, StateOpen, f.State)
	require.Equal(t, ModeEdit, f.Mode)
	require.Equal(t, "Backend Intern", f.Position)
	require.Equal(t, "https://apply", f.Link)
	require.Equal(t, "https://s/storage/v1/object/public/opportunity-images/images/2.png", f.PreviewURL)

	require.ErrorIs(t, m.OpenEdit("missing"), ErrUnknownID)

	m.OpenCreate()
	f = m.Form()
	require.Equal(t, ModeCreate, f.Mode)
	require.Empty(t, f.Position)
	require.Empty(t, f.PreviewURL)
}

// Пустая позиция отклоняется на клиенте, запрос не отправляется
func TestManager_ValidationIssuesNoRequest(t *testing.T) {
	b := &fakeBackend{}
	m := NewManager(b, testResolver)
	m.OpenCreate()
	require.NoError(t, m.SetFields("", "Help out", ""))
	require.NoError(t, m.SetImage(&Attachment{Name: "a.png", Data: []byte("x")}))

	_, err := m.Submit(context.Background())
	require.ErrorIs(t, err, model.ErrValidation)
	require.Equal(t, 0, b.submits)
	f := m.Form()
	require.Equal(t, StateOpen, f.State)
	require.Equal(t, model.MsgFieldsRequired, f.Err)
	require.Equal(t, "Help out", f.Description)

	// в режиме создания нужно изображение
	require.NoError(t, m.SetFields("Intern", "Help out", ""))
	require.NoError(t, m.SetImage(nil))
	_, err = m.Submit(context.Background())
	require.EqualError(t, err, model.MsgImageRequired)
	require.Equal(t, 0, b.submits)
}

func TestManager_SubmitSuccess(t *testing.T) {
	var progressSeen []int
	refreshed := 0
	var m *Manager
	b := &fakeBackend{
		listFn: func(context.Context) ([]model.Opportunity, error) {
			refreshed++
			return sample(), nil
		},
		submitFn: func(_ context.Context, in model.SubmitInput, onProgress func(int)) (*model.Opportunity, error) {
			require.Equal(t, "Intern", in.Position)
			require.False(t, in.IsEdit)
			data, _ := io.ReadAll(in.Image.Reader)
			require.Equal(t, "PNG", string(data))
			for _, p := range []int{0, 50, 100} {
				onProgress(p)
				f := m.Form()
				require.Equal(t, StateSubmitting, f.State)
				progressSeen = append(progressSeen, f.Progress)
			}
			return &model.Opportunity{ID: "3", Position: in.Position}, nil
		},
	}
	m = NewManager(b, testResolver)
	m.OpenCreate()
	require.NoError(t, m.SetFields(" Intern ", "Help out", ""))
	require.NoError(t, m.SetImage(&Attachment{Name: "a.png", ContentType: "image/png", Data: []byte("PNG")}))

	o, err := m.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, "3", o.ID)
	require.Equal(t, []int{0, 50, 100}, progressSeen)
	f := m.Form()
	require.Equal(t, StateClosed, f.State)
	require.Equal(t, 0, f.Progress)
	require.Equal(t, 1, refreshed)
}

// Ошибка сервера оставляет форму открытой, повторная отправка использует те же данные
func TestManager_SubmitFailureKeepsForm(t *testing.T) {
	attempt := 0
	b := &fakeBackend{submitFn: func(_ context.Context, in model.SubmitInput, onProgress func(int)) (*model.Opportunity, error) {
		attempt++
		data, _ := io.ReadAll(in.Image.Reader)
		require.Equal(t, "IMG", string(data), "файл должен читаться заново при каждой попытке")
		onProgress(40)
		if attempt == 1 {
			return nil, &SubmitError{Status: 500, Message: "Failed to upload image"}
		}
		return &model.Opportunity{ID: "x"}, nil
	}}
	m := NewManager(b, testResolver)
	m.OpenCreate()
	require.NoError(t, m.SetFields("Intern", "Help out", "https://x"))
	require.NoError(t, m.SetImage(&Attachment{Name: "a.png", Data: []byte("IMG")}))

	_, err := m.Submit(context.Background())
	var se *SubmitError
	require.ErrorAs(t, err, &se)
	f := m.Form()
	require.Equal(t, StateOpen, f.State)
	require.Equal(t, 0, f.Progress)
	require.Equal(t, "Failed to upload image", f.Err)
	require.Equal(t, "Intern", f.Position)
	require.Equal(t, "https://x", f.Link)
	require.NotNil(t, f.Image)

	_, err = m.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateClosed, m.Form().State)
}

func TestManager_EditWithoutImage(t *testing.T) {
	b := &fakeBackend{
		listFn: func(context.Context) ([]model.Opportunity, error) { return sample(), nil },
		submitFn: func(_ context.Context, in model.SubmitInput, _ func(int)) (*model.Opportunity, error) {
			require.True(t, in.IsEdit)
			require.Equal(t, "2", in.ID)
			require.Nil(t, in.Image)
			return &model.Opportunity{ID: in.ID, Description: in.Description}, nil
		},
	}
	m := NewManager(b, testResolver)
	require.NoError(t, m.Refresh(context.Background()))
	require.NoError(t, m.OpenEdit("2"))
	f := m.Form()
	require.NoError(t, m.SetFields(f.Position, "Updated", f.Link))
	o, err := m.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Updated", o.Description)
}

func TestManager_SubmitRequiresOpenForm(t *testing.T) {
	m := NewManager(&fakeBackend{}, testResolver)
	_, err := m.Submit(context.Background())
	require.ErrorIs(t, err, ErrFormNotOpen)
	require.ErrorIs(t, m.SetFields("a", "b", ""), ErrFormNotOpen)
	m.OpenCreate()
	m.Close()
	require.Equal(t, StateClosed, m.Form().State)
}

func TestManager_Delete(t *testing.T) {
	items := sample()
	b := &fakeBackend{
		listFn: func(context.Context) ([]model.Opportunity, error) { return items, nil },
		deleteFn: func(_ context.Context, id string) error {
			if id == "missing" {
				return &SubmitError{Status: 404, Message: "Not found"}
			}
			items = items[:1]
			return nil
		},
	}
	m := NewManager(b, testResolver)
	require.NoError(t, m.Refresh(context.Background()))
	require.NoError(t, m.Delete(context.Background(), "1"))
	require.Len(t, m.Items(), 1)

	err := m.Delete(context.Background(), "missing")
	require.EqualError(t, err, "Not found")
	require.Len(t, m.Items(), 1)
}

func TestPercent(t *testing.T) {
	require.Equal(t, 0, Percent(0, 0))
	require.Equal(t, 0, Percent(0, 200))
	require.Equal(t, 50, Percent(100, 200))
	require.Equal(t, 33, Percent(1, 3))
	require.Equal(t, 67, Percent(2, 3))
	require.Equal(t, 100, Percent(300, 200))
}
