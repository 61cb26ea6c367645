package lumberjack_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pdtopdog/piwheels/pkg/master/lumberjack"
	"github.com/pdtopdog/piwheels/pkg/master/secretary"
)

type fakeSecretary struct {
	events []secretary.Event
}

func (f *fakeSecretary) Send(ctx context.Context, event secretary.Event) error {
	f.events = append(f.events, event)
	return nil
}

func post(t *testing.T, l *lumberjack.Lumberjack, body string) *httptest.ResponseRecorder {
	t.Helper()

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/logs", strings.NewReader(body))
	l.ServeHTTP(recorder, request)
	return recorder
}

func TestBatchOfRecords(t *testing.T) {
	sec := &fakeSecretary{}
	l := lumberjack.New(sec)

	recorder := post(t, l, strings.Join([]string{
		`filename=foo-1.0-cp39-cp39-linux_armv7l.whl host=10.0.0.1 timestamp=2019-06-01T12:00:00Z arch=armv7l distro_name=raspbian distro_version=10 py_name=CPython py_version=3.9.2`,
		`filename=bar-2.0-cp39-cp39-linux_armv7l.whl host=10.0.0.2`,
	}, "\n"))

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, sec.events, 2)

	first := sec.events[0].(secretary.DownloadEvent).Download
	require.Equal(t, "foo-1.0-cp39-cp39-linux_armv7l.whl", first.Filename)
	require.Equal(t, "10.0.0.1", first.AccessedBy)
	require.Equal(t, "armv7l", first.Arch)
	require.Equal(t, "raspbian", first.DistroName)
	require.Equal(t, "3.9.2", first.PyVersion)
	require.Equal(t, "2019-06-01", first.AccessedAt.Format("2006-01-02"))
}

func TestMalformedLinesAreDroppedNotFatal(t *testing.T) {
	sec := &fakeSecretary{}
	l := lumberjack.New(sec)

	recorder := post(t, l, strings.Join([]string{
		`host=10.0.0.1`, // no filename
		`filename=ok-1.0.whl host=10.0.0.2`,
		`filename=bad.whl host=10.0.0.3 timestamp=yesterday`,
	}, "\n"))

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, sec.events, 1)
	require.Contains(t, recorder.Body.String(), `"accepted": 1`)
	require.Contains(t, recorder.Body.String(), `"dropped": 2`)
}

func TestRejectsNonPost(t *testing.T) {
	l := lumberjack.New(&fakeSecretary{})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/logs", nil)
	l.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}
