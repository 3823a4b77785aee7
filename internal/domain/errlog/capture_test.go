package errlog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) Capture(err error, metadata map[string]string) {
	m.Called(err, metadata)
}

type mockAlerter struct {
	mock.Mock
}

func (m *mockAlerter) Alert(ctx context.Context, title, message string) error {
	args := m.Called(ctx, title, message)
	return args.Error(0)
}

func install(t *testing.T, opts Options) *Hook {
	t.Helper()
	if opts.Log == nil {
		log, err := Open(NewMemoryStore(), DefaultCapacity)
		require.NoError(t, err)
		opts.Log = log
	}
	hook, err := Install(opts)
	require.NoError(t, err)
	t.Cleanup(hook.Remove)
	return hook
}

func TestInstallIsIdempotent(t *testing.T) {
	first := install(t, Options{})
	second, err := Install(Options{Production: true})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Same(t, first, Installed())
}

func TestInstallRequiresLog(t *testing.T) {
	_, err := Install(Options{})
	assert.ErrorIs(t, err, ErrNoLog)
}

func TestRemoveAllowsReinstall(t *testing.T) {
	log, err := Open(nil, 5)
	require.NoError(t, err)

	first, err := Install(Options{Log: log})
	require.NoError(t, err)
	first.Remove()
	assert.Nil(t, Installed())

	// A removed hook no longer records
	first.Capture(ContextGlobal, errors.New("ignored"), false)
	assert.Equal(t, 0, log.Len())

	second := install(t, Options{Log: log})
	assert.NotSame(t, first, second)
}

func TestCaptureAppendsAndReports(t *testing.T) {
	reporter := new(mockReporter)
	reporter.On("Capture", mock.Anything, mock.MatchedBy(func(meta map[string]string) bool {
		return meta["context"] == "OTA Update Check" && meta["fatal"] == "false" && meta["entry_id"] != ""
	})).Once()

	hook := install(t, Options{Reporter: reporter})
	hook.Capture("OTA Update Check", errors.New("503 from update server"), false)

	entries := hook.Log().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "OTA Update Check", entries[0].Context)
	assert.Equal(t, "503 from update server", entries[0].Message)
	reporter.AssertExpectations(t)
}

func TestFatalInDevelopmentAlerts(t *testing.T) {
	alerter := new(mockAlerter)
	alerter.On("Alert", mock.Anything, "Unexpected error: Global Handler", mock.MatchedBy(func(msg string) bool {
		return !strings.Contains(msg, "<b>") && strings.Contains(msg, "disk full")
	})).Return(nil).Once()

	hook := install(t, Options{Alerter: alerter, Production: false})
	hook.Capture(ContextGlobal, errors.New("<b>disk full</b>"), true)

	alerter.AssertExpectations(t)
	assert.True(t, hook.Log().Entries()[0].Fatal)
}

func TestFatalInProductionDoesNotAlert(t *testing.T) {
	alerter := new(mockAlerter)

	hook := install(t, Options{Alerter: alerter, Production: true})
	hook.Capture(ContextGlobal, errors.New("boom"), true)

	alerter.AssertNotCalled(t, "Alert", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 1, hook.Log().Len())
}

func TestNonFatalDoesNotAlert(t *testing.T) {
	alerter := new(mockAlerter)

	hook := install(t, Options{Alerter: alerter})
	hook.Capture(ContextGlobal, errors.New("minor"), false)

	alerter.AssertNotCalled(t, "Alert", mock.Anything, mock.Anything, mock.Anything)
}

func TestGoCapturesPanic(t *testing.T) {
	hook := install(t, Options{Production: true})

	done := make(chan struct{})
	hook.Go(ContextUnhandled, func() {
		defer close(done)
		panic("async failure")
	})
	<-done

	require.Eventually(t, func() bool { return hook.Log().Len() == 1 }, time.Second, 5*time.Millisecond)
	entry := hook.Log().Entries()[0]
	assert.Equal(t, ContextUnhandled, entry.Context)
	assert.Equal(t, "panic: async failure", entry.Message)
	assert.NotEmpty(t, entry.Stack)
	assert.True(t, entry.Fatal)
}

type tracedError struct{}

func (tracedError) Error() string      { return "traced" }
func (tracedError) StackTrace() string { return "frame 1\nframe 2" }

func TestCaptureKeepsErrorStack(t *testing.T) {
	hook := install(t, Options{})
	hook.Capture(ContextGlobal, tracedError{}, false)

	assert.Equal(t, "frame 1\nframe 2", hook.Log().Entries()[0].Stack)
}

func TestGinRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hook := install(t, Options{})

	router := gin.New()
	router.Use(hook.GinRecovery())
	router.GET("/explode", func(c *gin.Context) { panic(errors.New("handler bug")) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/explode", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	entry := hook.Log().Entries()[0]
	assert.Equal(t, ContextHTTPHandler, entry.Context)
	assert.Equal(t, "handler bug", entry.Message)
	assert.False(t, entry.Fatal)
}
