package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/dandantas/studyrunner/internal/model"
	"github.com/dandantas/studyrunner/internal/retry"
	"github.com/oliveagle/jsonpath"
)

const maxResponseBytes = 4 << 20

// HTTPConfig configures the JSON-over-HTTP platform adapter
type HTTPConfig struct {
	BaseURL           string
	Timeout           time.Duration
	Retry             model.RetryConfig
	HeartbeatInterval time.Duration

	// JSONPath locations of the interesting parts of each response
	CoursesPath   string
	ChaptersPath  string
	UnitsPath     string
	NotOpenPath   string
	QuestionsPath string
}

// SetDefaults fills unset fields
func (c *HTTPConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.CoursesPath == "" {
		c.CoursesPath = "$.courses"
	}
	if c.ChaptersPath == "" {
		c.ChaptersPath = "$.chapters"
	}
	if c.UnitsPath == "" {
		c.UnitsPath = "$.units"
	}
	if c.NotOpenPath == "" {
		c.NotOpenPath = "$.not_open"
	}
	if c.QuestionsPath == "" {
		c.QuestionsPath = "$.questions"
	}
	c.Retry.SetDefaults()
}

// StatusError is a non-2xx platform response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("platform returned status %d: %s", e.StatusCode, e.Body)
}

// HTTPAdapter is a platform session over HTTP with a private cookie jar
type HTTPAdapter struct {
	cfg    HTTPConfig
	client *http.Client
	retry  *retry.Strategy
	speed  float64
}

// NewHTTPFactory returns a factory opening one HTTP session per job
func NewHTTPFactory(cfg HTTPConfig) Factory {
	cfg.SetDefaults()
	return FactoryFunc(func(settings model.UserSettings) Adapter {
		return NewHTTPAdapter(cfg, settings.Speed)
	})
}

// NewHTTPAdapter creates a new session
func NewHTTPAdapter(cfg HTTPConfig, speed float64) *HTTPAdapter {
	cfg.SetDefaults()
	if speed < 1 {
		speed = 1
	}

	jar, _ := cookiejar.New(nil)

	return &HTTPAdapter{
		cfg:    cfg,
		client: NewHTTPClient(cfg.Timeout, jar),
		retry:  retry.NewStrategy(cfg.Retry),
		speed:  speed,
	}
}

// NewHTTPClient creates an HTTP client with connection pooling and the given cookie jar
func NewHTTPClient(timeout time.Duration, jar http.CookieJar) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Jar:     jar,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// Login authenticates the session
func (a *HTTPAdapter) Login(ctx context.Context, account Account) error {
	_, err := a.do(ctx, http.MethodPost, "/login", map[string]string{
		"username": account.Username,
		"password": account.Password,
	})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	return nil
}

// FetchCourseList lists the account's courses
func (a *HTTPAdapter) FetchCourseList(ctx context.Context) ([]model.Course, error) {
	data, err := a.do(ctx, http.MethodGet, "/courses", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch courses: %w", err)
	}

	var courses []model.Course
	if err := extract(data, a.cfg.CoursesPath, &courses); err != nil {
		return nil, err
	}
	return courses, nil
}

// FetchChapters lists the ordered chapters of a course
func (a *HTTPAdapter) FetchChapters(ctx context.Context, course model.Course) ([]model.Chapter, error) {
	data, err := a.do(ctx, http.MethodGet, coursePath(course)+"/chapters", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chapters: %w", err)
	}

	var chapters []model.Chapter
	if err := extract(data, a.cfg.ChaptersPath, &chapters); err != nil {
		return nil, err
	}
	return chapters, nil
}

// FetchChapterUnits lists a chapter's units and whether the chapter is open
func (a *HTTPAdapter) FetchChapterUnits(ctx context.Context, course model.Course, chapterID string) ([]model.Unit, model.ChapterMeta, error) {
	data, err := a.do(ctx, http.MethodGet, chapterPath(course, chapterID)+"/units", nil)
	if err != nil {
		return nil, model.ChapterMeta{}, fmt.Errorf("failed to fetch chapter units: %w", err)
	}

	var meta model.ChapterMeta
	if notOpen, lookupErr := jsonpath.JsonPathLookup(data, a.cfg.NotOpenPath); lookupErr == nil {
		meta.NotOpen, _ = notOpen.(bool)
	}

	if meta.NotOpen {
		return nil, meta, nil
	}

	var units []model.Unit
	if err := extract(data, a.cfg.UnitsPath, &units); err != nil {
		return nil, meta, err
	}
	return units, meta, nil
}

// ExecuteUnit performs the remote interaction for unit
func (a *HTTPAdapter) ExecuteUnit(ctx context.Context, course model.Course, chapterID string, unit model.Unit, mode model.UnitType, onProgress ProgressFunc) error {
	base := chapterPath(course, chapterID)

	switch mode {
	case model.UnitVideo, model.UnitAudio:
		return a.playMedia(ctx, base+"/units/"+url.PathEscape(unit.ID)+"/media", mode, onProgress)
	case model.UnitDocument:
		_, err := a.do(ctx, http.MethodPost, base+"/units/"+url.PathEscape(unit.ID)+"/document", nil)
		return err
	case model.UnitEmptyPage:
		_, err := a.do(ctx, http.MethodPost, base+"/empty", nil)
		return err
	default:
		return fmt.Errorf("unit type %q is not executable directly", mode)
	}
}

// FetchQuiz returns the questions of a quiz unit
func (a *HTTPAdapter) FetchQuiz(ctx context.Context, course model.Course, unit model.Unit) ([]model.Question, error) {
	data, err := a.do(ctx, http.MethodGet, coursePath(course)+"/quizzes/"+url.PathEscape(unit.ID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quiz: %w", err)
	}

	var questions []model.Question
	if err := extract(data, a.cfg.QuestionsPath, &questions); err != nil {
		return nil, err
	}
	return questions, nil
}

// SubmitQuiz submits answers for a quiz unit
func (a *HTTPAdapter) SubmitQuiz(ctx context.Context, course model.Course, unit model.Unit, answers []model.Answer) error {
	_, err := a.do(ctx, http.MethodPost, coursePath(course)+"/quizzes/"+url.PathEscape(unit.ID), map[string]interface{}{
		"answers": answers,
	})
	if err != nil {
		return fmt.Errorf("failed to submit quiz: %w", err)
	}
	return nil
}

// playMedia starts playback and reports heartbeats until the platform marks the unit finished
func (a *HTTPAdapter) playMedia(ctx context.Context, path string, mode model.UnitType, onProgress ProgressFunc) error {
	data, err := a.do(ctx, http.MethodPost, path+"/start", map[string]interface{}{
		"mode":  mode,
		"speed": a.speed,
	})
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnsupportedMediaType {
			return ErrWrongMediaType
		}
		return err
	}

	var session struct {
		Duration int `json:"duration"`
		Position int `json:"position"`
	}
	if err := extract(data, "$", &session); err != nil {
		return err
	}

	step := int(a.cfg.HeartbeatInterval.Seconds() * a.speed)
	if step < 1 {
		step = 1
	}

	position := session.Position
	for {
		position = min(position+step, session.Duration)

		resp, err := a.do(ctx, http.MethodPost, path+"/heartbeat", map[string]interface{}{
			"mode":     mode,
			"position": position,
		})
		if err != nil {
			return err
		}

		if onProgress != nil {
			onProgress(MediaProgress{Elapsed: position, Total: session.Duration})
		}

		finished, _ := jsonpath.JsonPathLookup(resp, "$.finished")
		if done, _ := finished.(bool); done || position >= session.Duration {
			return nil
		}

		select {
		case <-time.After(a.cfg.HeartbeatInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// do sends a JSON request with retries and returns the decoded response body
func (a *HTTPAdapter) do(ctx context.Context, method, path string, body interface{}) (interface{}, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	endpoint := strings.TrimRight(a.cfg.BaseURL, "/") + path

	for attempt := 1; ; attempt++ {
		data, statusCode, err := a.send(ctx, method, endpoint, payload)
		if err == nil {
			return data, nil
		}

		if !a.retry.ShouldRetry(attempt, statusCode, err) {
			return nil, err
		}

		slog.Debug("Platform request failed, retrying",
			"method", method,
			"path", path,
			"attempt", attempt,
			"status_code", statusCode,
			"error", err,
		)

		if waitErr := a.retry.Wait(ctx, attempt); waitErr != nil {
			return nil, waitErr
		}
	}
}

func (a *HTTPAdapter) send(ctx context.Context, method, endpoint string, payload []byte) (interface{}, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 256)}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]interface{}{}, resp.StatusCode, nil
	}

	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("invalid JSON response: %w", err)
	}
	return data, resp.StatusCode, nil
}

// extract looks up path in data and decodes the match into target
func extract(data interface{}, path string, target interface{}) error {
	value := data
	if path != "$" {
		var err error
		value, err = jsonpath.JsonPathLookup(data, path)
		if err != nil {
			return fmt.Errorf("JSONPath expression '%s' returned no results: %w", path, err)
		}
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to re-encode '%s': %w", path, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("unexpected shape at '%s': %w", path, err)
	}
	return nil
}

func coursePath(course model.Course) string {
	return "/courses/" + url.PathEscape(course.ID)
}

func chapterPath(course model.Course, chapterID string) string {
	return coursePath(course) + "/chapters/" + url.PathEscape(chapterID)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
