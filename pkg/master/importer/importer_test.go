package importer_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"io/ioutil"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/pdtopdog/piwheels/internal/db"
	"github.com/pdtopdog/piwheels/internal/protocol"
	"github.com/pdtopdog/piwheels/pkg/master/importer"
)

type fakeInstaller struct {
	installed map[string][]byte
	err       error
}

func (f *fakeInstaller) Install(r io.Reader, info protocol.FileInfo, pkg string) error {
	if f.err != nil {
		return f.err
	}
	content, err := ioutil.ReadAll(r)
	if err != nil {
		return err
	}
	if f.installed == nil {
		f.installed = make(map[string][]byte)
	}
	f.installed[info.Filename] = content
	return nil
}

type fakeRecorder struct {
	builds []db.Build
	files  [][]db.File
}

func (f *fakeRecorder) RecordBuild(build db.Build, files []db.File, deps []db.Dependency) error {
	f.builds = append(f.builds, build)
	f.files = append(f.files, files)
	return nil
}

func multipartBody(t *testing.T, metadata importer.Metadata, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	meta, err := writer.CreateFormField("metadata")
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(meta).Encode(metadata))

	file, err := writer.CreateFormFile("file", metadata.File.Filename)
	require.NoError(t, err)
	_, err = file.Write(content)
	require.NoError(t, err)

	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func TestImportInstallsAndRecords(t *testing.T) {
	installer := &fakeInstaller{}
	recorder := &fakeRecorder{}
	i := importer.New(installer, recorder)

	content := []byte("wheel bytes")
	digest := sha256.Sum256(content)
	metadata := importer.Metadata{
		Package: "foo",
		Version: "1.0",
		ABITag:  "cp39m",
		File: protocol.FileInfo{
			Filename: "foo-1.0-cp39-cp39-linux_armv7l.whl",
			Filesize: int64(len(content)),
			Filehash: hex.EncodeToString(digest[:]),
		},
	}
	body, contentType := multipartBody(t, metadata, content)

	recorderW := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/import", body)
	request.Header.Set("Content-Type", contentType)
	i.ServeHTTP(recorderW, request)

	require.Equal(t, http.StatusOK, recorderW.Code)
	require.Equal(t, content, installer.installed[metadata.File.Filename])
	require.Len(t, recorder.builds, 1)
	require.Equal(t, "import", recorder.builds[0].BuiltBy)
	require.True(t, recorder.builds[0].Status)
	require.Len(t, recorder.files[0], 1)
}

func TestImportRejectsFailedVerification(t *testing.T) {
	installer := &fakeInstaller{err: errors.New("hash mismatch")}
	recorder := &fakeRecorder{}
	i := importer.New(installer, recorder)

	metadata := importer.Metadata{
		Package: "foo",
		Version: "1.0",
		File:    protocol.FileInfo{Filename: "foo-1.0.whl"},
	}
	body, contentType := multipartBody(t, metadata, []byte("junk"))

	recorderW := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/import", body)
	request.Header.Set("Content-Type", contentType)
	i.ServeHTTP(recorderW, request)

	require.Equal(t, http.StatusUnprocessableEntity, recorderW.Code)
	require.Empty(t, recorder.builds)
}

func TestImportRejectsIncompleteMetadata(t *testing.T) {
	i := importer.New(&fakeInstaller{}, &fakeRecorder{})

	metadata := importer.Metadata{Package: "foo"} // no version, no file
	body, contentType := multipartBody(t, metadata, []byte("junk"))

	recorderW := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/import", body)
	request.Header.Set("Content-Type", contentType)
	i.ServeHTTP(recorderW, request)

	require.Equal(t, http.StatusBadRequest, recorderW.Code)
}
