package gazer_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/pdtopdog/piwheels/internal/db"
	"github.com/pdtopdog/piwheels/internal/pypi"
	"github.com/pdtopdog/piwheels/pkg/master/gazer"
	"github.com/pdtopdog/piwheels/pkg/master/secretary"
)

type fakeIndex struct {
	projects []string
	serial   int64
	releases map[string][]pypi.Release
	err      error
}

func (f *fakeIndex) Projects(ctx context.Context) ([]string, int64, error) {
	if f.err != nil {
		return nil, -1, f.err
	}
	return f.projects, f.serial, nil
}

func (f *fakeIndex) Releases(ctx context.Context, name string) ([]pypi.Release, error) {
	return f.releases[name], nil
}

type fakeOracle struct {
	packages []string
	versions []db.Version
	serial   int64
}

func (f *fakeOracle) GetAllPackages(ctx context.Context) ([]string, error) {
	return f.packages, nil
}

func (f *fakeOracle) GetAllPackageVersions(ctx context.Context) ([]db.Version, error) {
	return f.versions, nil
}

func (f *fakeOracle) GetPyPISerial(ctx context.Context) (int64, error) {
	return f.serial, nil
}

func (f *fakeOracle) SetPyPISerial(ctx context.Context, serial int64) error {
	f.serial = serial
	return nil
}

type fakeSecretary struct {
	events []secretary.Event
}

func (f *fakeSecretary) Send(ctx context.Context, event secretary.Event) error {
	f.events = append(f.events, event)
	return nil
}

func TestPollRegistersNewPackageAndVersions(t *testing.T) {
	released := time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC)
	index := &fakeIndex{
		projects: []string{"Foo"},
		serial:   10,
		releases: map[string][]pypi.Release{
			"foo": {{Version: "1.0", Released: released}},
		},
	}
	oracle := &fakeOracle{}
	sec := &fakeSecretary{}
	g := gazer.New(index, oracle, sec)

	gazer.Poll(g, context.Background())

	require.Len(t, sec.events, 2)
	require.Equal(t, secretary.NewPackageEvent{Name: "foo"}, sec.events[0])
	require.Equal(t, secretary.NewVersionEvent{
		Package: "foo", Version: "1.0", Released: released,
	}, sec.events[1])
	require.Equal(t, int64(10), oracle.serial)
}

func TestPollSkipsWhenSerialUnchanged(t *testing.T) {
	index := &fakeIndex{projects: []string{"foo"}, serial: 10}
	oracle := &fakeOracle{serial: 10}
	sec := &fakeSecretary{}
	g := gazer.New(index, oracle, sec)

	gazer.Poll(g, context.Background())

	require.Empty(t, sec.events)
}

func TestPollKnownVersionsNotReRegistered(t *testing.T) {
	released := time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC)
	index := &fakeIndex{
		projects: []string{"foo"},
		serial:   11,
		releases: map[string][]pypi.Release{
			"foo": {
				{Version: "1.0", Released: released},
				{Version: "1.1", Released: released.Add(time.Hour)},
			},
		},
	}
	oracle := &fakeOracle{
		serial:   10,
		packages: []string{"foo"},
		versions: []db.Version{{Package: "foo", Version: "1.0"}},
	}
	sec := &fakeSecretary{}
	g := gazer.New(index, oracle, sec)

	gazer.Poll(g, context.Background())

	require.Len(t, sec.events, 1)
	require.Equal(t, secretary.NewVersionEvent{
		Package: "foo", Version: "1.1", Released: released.Add(time.Hour),
	}, sec.events[0])
}

func TestPollUpstreamFailureChangesNothing(t *testing.T) {
	index := &fakeIndex{err: errors.New("bad gateway")}
	oracle := &fakeOracle{serial: 5}
	sec := &fakeSecretary{}
	g := gazer.New(index, oracle, sec)

	gazer.Poll(g, context.Background())

	require.Empty(t, sec.events)
	require.Equal(t, int64(5), oracle.serial)
}
