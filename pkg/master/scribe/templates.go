package scribe

import (
	"bytes"
	"html/template"

	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/db"
)

// Page rendering is pure (model) -> bytes; the templates never touch
// the database or the clock, which keeps golden-file tests portable.

var packageIndexTemplate = template.Must(template.New("package").Parse(`<!DOCTYPE html>
<html>
<head>
<title>Links for {{.Package}}</title>
</head>
<body>
<h1>Links for {{.Package}}</h1>
{{- range .Files}}
<a href="{{.Filename}}#sha256={{.Filehash}}">{{.Filename}}</a><br/>
{{- end}}
</body>
</html>
`))

var projectPageTemplate = template.Must(template.New("project").Parse(`<!DOCTYPE html>
<html>
<head>
<title>{{.Package}}</title>
</head>
<body>
<h1>{{.Package}}</h1>
<table>
<tr><th>File</th><th>Size</th><th>ABI</th><th>Platform</th></tr>
{{- range .Files}}
<tr><td><a href="/simple/{{$.Package}}/{{.Filename}}#sha256={{.Filehash}}">{{.Filename}}</a></td><td>{{.Filesize}}</td><td>{{.ABITag}}</td><td>{{.PlatformTag}}</td></tr>
{{- end}}
</table>
</body>
</html>
`))

var rootIndexTemplate = template.Must(template.New("root").Parse(`<!DOCTYPE html>
<html>
<head>
<title>Simple index</title>
</head>
<body>
{{- range .Packages}}
<a href="{{.}}/">{{.}}</a><br/>
{{- end}}
</body>
</html>
`))

var statsTemplate = template.Must(template.New("stats").Parse(`<!DOCTYPE html>
<html>
<head>
<title>Build statistics</title>
</head>
<body>
<table>
<tr><td>Packages</td><td>{{.PackagesCount}}</td></tr>
<tr><td>Packages built</td><td>{{.PackagesBuilt}}</td></tr>
<tr><td>Versions</td><td>{{.VersionsCount}}</td></tr>
<tr><td>Builds</td><td>{{.BuildsCount}}</td></tr>
<tr><td>Successful builds</td><td>{{.BuildsCountSuccess}}</td></tr>
<tr><td>Builds in the last hour</td><td>{{.BuildsCountLastHour}}</td></tr>
<tr><td>Total build time</td><td>{{.BuildsTime}}</td></tr>
<tr><td>Files</td><td>{{.FilesCount}}</td></tr>
<tr><td>Downloads</td><td>{{.DownloadsCount}}</td></tr>
</table>
</body>
</html>
`))

func renderPackageIndex(pkg string, files []db.File) ([]byte, error) {
	return render(packageIndexTemplate, struct {
		Package string
		Files   []db.File
	}{Package: pkg, Files: files})
}

func renderProjectPage(pkg string, files []db.File) ([]byte, error) {
	return render(projectPageTemplate, struct {
		Package string
		Files   []db.File
	}{Package: pkg, Files: files})
}

func renderRootIndex(packages []string) ([]byte, error) {
	return render(rootIndexTemplate, struct {
		Packages []string
	}{Packages: packages})
}

func renderStats(stats db.Statistics) ([]byte, error) {
	return render(statsTemplate, stats)
}

func render(t *template.Template, model interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, model); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}
