package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	t.Cleanup(func() { _ = Init("en") })
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "LevelExcellent")
	if got != "excellent" {
		t.Errorf("T(LevelExcellent) = %q, want 'excellent'", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	got := T(ctx, "LevelPoor")
	if got != "слабый" {
		t.Errorf("T(LevelPoor) = %q, want 'слабый'", got)
	}

	got = Td(ctx, "QuestionHeader", map[string]any{"Number": 2, "Total": 5})
	if got != "Вопрос 2 из 5" {
		t.Errorf("Td(QuestionHeader) = %q, want 'Вопрос 2 из 5'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got1 := Tp(ctx, "QuestionsAvailable", 1)
	if got1 != "1 question available." {
		t.Errorf("Tp(QuestionsAvailable, 1) = %q, want '1 question available.'", got1)
	}

	got5 := Tp(ctx, "QuestionsAvailable", 5)
	if got5 != "5 questions available." {
		t.Errorf("Tp(QuestionsAvailable, 5) = %q, want '5 questions available.'", got5)
	}
}

func TestRussianPlural(t *testing.T) {
	ctx := initLang(t, "ru")

	tests := []struct {
		count int
		want  string
	}{
		{1, "Доступен 1 вопрос."},
		{3, "Доступно 3 вопроса."},
		{5, "Доступно 5 вопросов."},
	}
	for _, tt := range tests {
		if got := Tp(ctx, "QuestionsAvailable", tt.count); got != tt.want {
			t.Errorf("Tp(QuestionsAvailable, %d) = %q, want %q", tt.count, got, tt.want)
		}
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "InsightStrongest", map[string]any{"Topic": "go", "Score": "90"})
	if got != "Strongest topic: go (90%)." {
		t.Errorf("Td(InsightStrongest) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestDefaultContext(t *testing.T) {
	initLang(t, "en")

	got := T(context.Background(), "LevelGood")
	if got != "good" {
		t.Errorf("T without localizer = %q, want 'good'", got)
	}
}

func TestWithLanguage(t *testing.T) {
	initLang(t, "en")

	ctx := WithLanguage(context.Background(), "ru")
	if got := T(ctx, "LevelGood"); got != "хороший" {
		t.Errorf("T(LevelGood) = %q, want 'хороший'", got)
	}
	if !slices.Contains(Languages(), "ru") {
		t.Errorf("Languages() = %v, want ru included", Languages())
	}
}

func TestMiddlewareAcceptLanguage(t *testing.T) {
	initLang(t, "en")

	var got string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "LevelAverage")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "средний" {
		t.Errorf("with Accept-Language ru got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "average" {
		t.Errorf("without Accept-Language got %q", got)
	}
}
