package crawler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alqutdigital/tender-watch/internal/announcement"
	"github.com/alqutdigital/tender-watch/internal/detect"
	"github.com/alqutdigital/tender-watch/internal/dom"
	"github.com/alqutdigital/tender-watch/internal/parser"
	"github.com/alqutdigital/tender-watch/internal/realtime"
	"github.com/alqutdigital/tender-watch/internal/storage"
	"github.com/alqutdigital/tender-watch/pkg/logger"
)

const (
	homeURL = "https://ecp.test/portal/#/"
	navURL  = "https://ecp.test/portal/#/purchase"
	listURL = "https://ecp.test/portal/#/purchase/zbgg"
)

const homePage = `<html><body><div class="menu"><a data-go="` + navURL + `">招标采购</a></div></body></html>`

const navPage = `<html><body><div class="el-tabs">
<div class="el-tabs__item">资格预审公告</div>
<div class="el-tabs__item" data-go="` + listURL + `">招标公告及投标邀请书</div>
</div></body></html>`

const listPage = `<html><body><table class="el-table__body"><tbody>
<tr><td><a data-open="https://ecp.test/doc/1">Substation works</a></td><td>P001</td><td>Open</td><td>2024-03-05</td></tr>
<tr><td><a data-go="https://ecp.test/doc/2">Line survey</a></td><td>P002</td><td>Open</td><td>2024-03-04</td></tr>
<tr><td><a>Cable supply</a></td><td>P003</td><td>Open</td><td>2024-03-03</td></tr>
</tbody></table></body></html>`

func detailPage(tenderer, status string) string {
	return `<html><body><table>
<tr><td>采购项目状态</td><td>` + status + `</td></tr>
<tr><td>招标人</td><td>` + tenderer + `</td></tr>
<tr><td>开标时间</td><td>2024-03-20 09:30</td></tr>
</table></body></html>`
}

// withDownload appends a download control to a page.
func withDownload(page, control string) string {
	return strings.Replace(page, "</body>", control+"</body>", 1)
}

func testSite() map[string]string {
	return map[string]string{
		homeURL:                  homePage,
		navURL:                   navPage,
		listURL:                  listPage,
		"https://ecp.test/doc/1": detailPage("State Grid Jiangsu", "Closed"),
		"https://ecp.test/doc/2": detailPage("State Grid Anhui", "Open"),
	}
}

// fakeTab is one browsing context of the fake browser.
type fakeTab struct {
	history []string
	gen     int
}

func (t *fakeTab) url() string { return t.history[len(t.history)-1] }

// fakeEl is a snapshot node bound to the page generation it was found in.
type fakeEl struct {
	dom.Element
	tab string
	gen int
}

func (e *fakeEl) Find(ctx context.Context, q dom.Query) ([]dom.Element, error) {
	els, err := e.Element.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	return wrap(els, e.tab, e.gen), nil
}

func wrap(els []dom.Element, tab string, gen int) []dom.Element {
	out := make([]dom.Element, len(els))
	for i, el := range els {
		out[i] = &fakeEl{Element: el, tab: tab, gen: gen}
	}
	return out
}

// fakeSession renders pages of a static site. Elements with data-go navigate
// the current context, elements with data-open open a new one.
type fakeSession struct {
	mu      sync.Mutex
	site    map[string]string
	tabs    map[string]*fakeTab
	order   []string
	current string
	nextTab int

	// staleClicks makes the first n clicks find their handle stale, as if the
	// list re-rendered under them.
	staleClicks int
	clicks      int
	released    bool
}

func newFakeSession(site map[string]string) *fakeSession {
	s := &fakeSession{site: site, tabs: map[string]*fakeTab{}}
	s.tabs["T0"] = &fakeTab{history: []string{"about:blank"}}
	s.order = []string{"T0"}
	s.current = "T0"
	return s
}

func (s *fakeSession) ID() string { return "fake-session" }

func (s *fakeSession) tab() *fakeTab { return s.tabs[s.current] }

func (s *fakeSession) page() (*dom.Snapshot, error) {
	markup, ok := s.site[s.tab().url()]
	if !ok {
		markup = "<html><body></body></html>"
	}
	return dom.ParseSnapshot(markup)
}

func (s *fakeSession) FindAll(ctx context.Context, q dom.Query) ([]dom.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.page()
	if err != nil {
		return nil, err
	}
	els, err := snap.FindAll(ctx, q)
	if err != nil {
		return nil, err
	}
	return wrap(els, s.current, s.tab().gen), nil
}

func (s *fakeSession) check(el dom.Element) (*fakeEl, error) {
	fe, ok := el.(*fakeEl)
	if !ok {
		return nil, errors.New("foreign element")
	}
	if fe.tab != s.current || fe.gen != s.tab().gen {
		return nil, dom.ErrStaleElement
	}
	return fe, nil
}

func (s *fakeSession) Click(ctx context.Context, el dom.Element) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clicks++
	if s.clicks <= s.staleClicks {
		s.tab().gen++
	}
	fe, err := s.check(el)
	if err != nil {
		return err
	}

	if url, ok, _ := fe.Attr(ctx, "data-go"); ok {
		s.navigate(url)
		return nil
	}
	if url, ok, _ := fe.Attr(ctx, "data-open"); ok {
		s.nextTab++
		id := fmt.Sprintf("T%d", s.nextTab)
		s.tabs[id] = &fakeTab{history: []string{url}}
		s.order = append(s.order, id)
	}
	return nil
}

func (s *fakeSession) ScriptClick(ctx context.Context, el dom.Element) error {
	return s.Click(ctx, el)
}

func (s *fakeSession) ScrollIntoView(ctx context.Context, el dom.Element) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.check(el)
	return err
}

func (s *fakeSession) navigate(url string) {
	t := s.tab()
	t.history = append(t.history, url)
	t.gen++
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigate(url)
	return nil
}

func (s *fakeSession) GoBack(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tab()
	if len(t.history) > 1 {
		t.history = t.history[:len(t.history)-1]
	}
	t.gen++
	return nil
}

func (s *fakeSession) CurrentURL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tab().url(), nil
}

func (s *fakeSession) HTML(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.site[s.tab().url()], nil
}

func (s *fakeSession) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *fakeSession) OpenContexts(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order), nil
}

func (s *fakeSession) SwitchTo(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tabs[id]; !ok {
		return fmt.Errorf("no context %s", id)
	}
	s.current = id
	return nil
}

func (s *fakeSession) Close(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "T0" {
		return errors.New("refusing to close the original context")
	}
	delete(s.tabs, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
	if s.current == id {
		s.current = "T0"
	}
	return nil
}

func (s *fakeSession) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
}

type captureProcessor struct {
	records []*announcement.Record
	panics  bool
}

func (p *captureProcessor) Process(ctx context.Context, records []*announcement.Record) detect.Result {
	if p.panics {
		panic("store exploded")
	}
	p.records = records
	return detect.Result{Inserted: len(records)}
}

type memRuns struct {
	mu   sync.Mutex
	runs []storage.Run
}

func (m *memRuns) Save(ctx context.Context, run storage.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *memRuns) last() storage.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[len(m.runs)-1]
}

type memPublisher struct {
	events []realtime.Event
}

func (m *memPublisher) PublishEvent(ctx context.Context, e realtime.Event) error {
	m.events = append(m.events, e)
	return nil
}

func instantPacer() *Pacer {
	return NewPacer(rand.New(rand.NewPCG(1, 2)), func(ctx context.Context, d time.Duration) error {
		return ctx.Err()
	})
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TargetURL = homeURL
	return cfg
}

func newTestService(s *fakeSession, p Processor, opts ...Option) *Service {
	launcher := LauncherFunc(func(ctx context.Context) (Session, error) { return s, nil })
	opts = append([]Option{WithPacer(instantPacer())}, opts...)
	return NewService(launcher, parser.Default(), p, testConfig(), logger.Nop(), opts...)
}

func TestRunCrawlNewContextAndInPlaceDetails(t *testing.T) {
	session := newFakeSession(testSite())
	proc := &captureProcessor{}
	runs := &memRuns{}
	pub := &memPublisher{}
	svc := newTestService(session, proc, WithRunRecorder(runs), WithPublisher(pub))

	var progress []int
	res, err := svc.RunCrawl(context.Background(), announcement.BiddingAnnouncement, RunOptions{
		Progress: func(p Progress) { progress = append(progress, p.Index) },
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 3, res.Listed)
	assert.Equal(t, 3, res.Detailed)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, []int{0, 1, 2}, progress)

	require.Len(t, proc.records, 3)
	opened, inPlace, unchanged := proc.records[0], proc.records[1], proc.records[2]

	assert.Equal(t, "P001", opened.ProjectCode)
	assert.Equal(t, "State Grid Jiangsu", announcement.Value(opened.Tenderer))
	assert.Equal(t, "Closed", announcement.Value(opened.Status))
	assert.Equal(t, "https://ecp.test/doc/1", announcement.Value(opened.DetailURL))
	require.NotNil(t, opened.BidOpenTime)

	assert.Equal(t, "P002", inPlace.ProjectCode)
	assert.Equal(t, "State Grid Anhui", announcement.Value(inPlace.Tenderer))
	assert.Equal(t, "https://ecp.test/doc/2", announcement.Value(inPlace.DetailURL))

	assert.Equal(t, "P003", unchanged.ProjectCode)
	assert.Nil(t, unchanged.Tenderer)
	assert.Nil(t, unchanged.DetailURL)

	contexts, _ := session.OpenContexts(context.Background())
	assert.Equal(t, []string{"T0"}, contexts)
	url, _ := session.CurrentURL(context.Background())
	assert.Equal(t, listURL, url)
	assert.True(t, session.released)
	assert.Zero(t, svc.arena.Len(session.ID()))

	assert.Equal(t, storage.RunRunning, runs.runs[0].State)
	assert.Equal(t, storage.RunCompleted, runs.last().State)
	require.Len(t, pub.events, 1)
	assert.Equal(t, realtime.KindCrawlCompleted, pub.events[0].Kind)
	assert.Equal(t, 3, pub.events[0].Run.Inserted)
}

func TestDetailFetcherStaleHandleIsReResolved(t *testing.T) {
	ctx := context.Background()
	session := newFakeSession(testSite())
	require.NoError(t, session.Navigate(ctx, listURL))

	strategy, _ := parser.Default().Lookup(announcement.BiddingAnnouncement)
	arena := NewRowArena()
	rows, _ := dom.Resolve(ctx, session, strategy.ListRowQueries())
	require.Len(t, rows, 3)
	arena.Put(session.ID(), 0, rows[0])
	partial := strategy.ParseListRow(ctx, rows[0])
	partial.Row = &announcement.RowRef{SessionID: session.ID(), Index: 0}

	// invalidates the cached handle before the first click
	session.staleClicks = 1

	f := newDetailFetcher(session, strategy, arena, testConfig(), instantPacer(), logger.Nop())
	out, err := f.fetchAll(ctx, []*announcement.Record{partial}, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "State Grid Jiangsu", announcement.Value(out[0].Tenderer))
	assert.Equal(t, 2, session.clicks)
}

func TestDetailFetcherKeepsListDataOnFailure(t *testing.T) {
	ctx := context.Background()
	session := newFakeSession(testSite())
	require.NoError(t, session.Navigate(ctx, listURL))

	strategy, _ := parser.Default().Lookup(announcement.BiddingAnnouncement)
	partial := &announcement.Record{ProjectCode: "P009", ProjectName: "Ghost", Row: &announcement.RowRef{Index: 7}}

	var reported error
	f := newDetailFetcher(session, strategy, NewRowArena(), testConfig(), instantPacer(), logger.Nop())
	out, err := f.fetchAll(ctx, []*announcement.Record{partial}, func(p Progress) { reported = p.Err })
	require.NoError(t, err)

	assert.Same(t, partial, out[0])
	assert.Error(t, reported)
	contexts, _ := session.OpenContexts(ctx)
	assert.Equal(t, []string{"T0"}, contexts)
}

func TestRunCrawlDownloadNavigatingInPlace(t *testing.T) {
	site := testSite()
	site["https://ecp.test/doc/2"] = withDownload(detailPage("State Grid Anhui", "Open"),
		`<a data-go="https://ecp.test/files/2.pdf">下载公告文件</a>`)
	session := newFakeSession(site)
	proc := &captureProcessor{}
	svc := newTestService(session, proc)

	res, err := svc.RunCrawl(context.Background(), announcement.BiddingAnnouncement, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Detailed)

	require.Len(t, proc.records, 3)
	inPlace, next := proc.records[1], proc.records[2]

	assert.Equal(t, "P002", inPlace.ProjectCode)
	assert.Equal(t, "State Grid Anhui", announcement.Value(inPlace.Tenderer))
	assert.Equal(t, "https://ecp.test/doc/2", announcement.Value(inPlace.DetailURL))
	assert.Equal(t, announcement.TriggeredDownload, announcement.Value(inPlace.FileDownload))

	// the next row is read from the list, not from the page left behind
	assert.Equal(t, "P003", next.ProjectCode)
	assert.Nil(t, next.Tenderer)
	assert.Nil(t, next.DetailURL)
	assert.Equal(t, "Open", announcement.Value(next.Status))

	url, _ := session.CurrentURL(context.Background())
	assert.Equal(t, listURL, url)
	contexts, _ := session.OpenContexts(context.Background())
	assert.Equal(t, []string{"T0"}, contexts)
}

func TestRunCrawlDownloadOpeningContext(t *testing.T) {
	site := testSite()
	site["https://ecp.test/doc/1"] = withDownload(detailPage("State Grid Jiangsu", "Closed"),
		`<a data-open="https://ecp.test/file.pdf">下载公告文件</a>`)
	session := newFakeSession(site)
	proc := &captureProcessor{}
	svc := newTestService(session, proc)

	_, err := svc.RunCrawl(context.Background(), announcement.BiddingAnnouncement, RunOptions{})
	require.NoError(t, err)

	require.Len(t, proc.records, 3)
	opened := proc.records[0]
	assert.Equal(t, "State Grid Jiangsu", announcement.Value(opened.Tenderer))
	assert.Equal(t, announcement.TriggeredDownload, announcement.Value(opened.FileDownload))
	assert.Equal(t, "State Grid Anhui", announcement.Value(proc.records[1].Tenderer))

	contexts, _ := session.OpenContexts(context.Background())
	assert.Equal(t, []string{"T0"}, contexts)
	assert.Equal(t, "T0", session.Current())
}

func TestDetailFetcherDownloadSideEffectsPerRecord(t *testing.T) {
	ctx := context.Background()
	site := testSite()
	site["https://ecp.test/doc/1"] = withDownload(detailPage("State Grid Jiangsu", "Closed"),
		`<a data-open="https://ecp.test/file.pdf">下载公告文件</a>`)
	site["https://ecp.test/doc/2"] = withDownload(detailPage("State Grid Anhui", "Open"),
		`<a data-go="https://ecp.test/files/2.pdf">下载公告文件</a>`)
	session := newFakeSession(site)
	require.NoError(t, session.Navigate(ctx, listURL))

	strategy, _ := parser.Default().Lookup(announcement.BiddingAnnouncement)
	rows, _ := dom.Resolve(ctx, session, strategy.ListRowQueries())
	require.Len(t, rows, 3)
	partials := make([]*announcement.Record, len(rows))
	for i, row := range rows {
		partials[i] = strategy.ParseListRow(ctx, row)
		partials[i].Row = &announcement.RowRef{SessionID: session.ID(), Index: i}
	}

	type state struct {
		url      string
		contexts []string
	}
	var after []state
	f := newDetailFetcher(session, strategy, NewRowArena(), testConfig(), instantPacer(), logger.Nop())
	out, err := f.fetchAll(ctx, partials, func(p Progress) {
		assert.NoError(t, p.Err, "row %d", p.Index)
		url, _ := session.CurrentURL(ctx)
		contexts, _ := session.OpenContexts(ctx)
		after = append(after, state{url: url, contexts: contexts})
	})
	require.NoError(t, err)
	require.Len(t, out, 3)

	for i, st := range after {
		assert.Equal(t, listURL, st.url, "row %d", i)
		assert.Equal(t, []string{"T0"}, st.contexts, "row %d", i)
	}
	assert.Equal(t, "State Grid Jiangsu", announcement.Value(out[0].Tenderer))
	assert.Equal(t, "State Grid Anhui", announcement.Value(out[1].Tenderer))
	assert.Nil(t, out[2].Tenderer)
}

func TestDetailFetcherReturnToListIsBounded(t *testing.T) {
	ctx := context.Background()
	session := newFakeSession(testSite())
	for _, u := range []string{listURL, "https://ecp.test/doc/1", "https://ecp.test/doc/2", "https://ecp.test/a", "https://ecp.test/b"} {
		require.NoError(t, session.Navigate(ctx, u))
	}

	strategy, _ := parser.Default().Lookup(announcement.BiddingAnnouncement)
	f := newDetailFetcher(session, strategy, NewRowArena(), testConfig(), instantPacer(), logger.Nop())
	f.listURL = listURL

	err := f.returnToList(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list not reached")

	// rows are never resolved off the list
	_, err = f.row(ctx, 0, true)
	require.NoError(t, err)
	url, _ := session.CurrentURL(ctx)
	assert.Equal(t, listURL, url)
}

func TestParseListResolvesRowLinks(t *testing.T) {
	ctx := context.Background()
	site := testSite()
	site[listURL] = `<html><body><table><tbody>
<tr><td><a href="/doc/9">Tower repair</a></td><td>Z009</td><td>Open</td><td>2024-03-05</td></tr>
<tr><td><a href="#/detail/7">Cable trench</a></td><td>Z007</td><td>Open</td><td>2024-03-04</td></tr>
<tr><td><a href="https://other.test/x">Meter supply</a></td><td>Z005</td><td>Open</td><td>2024-03-03</td></tr>
</tbody></table></body></html>`
	session := newFakeSession(site)
	require.NoError(t, session.Navigate(ctx, listURL))

	svc := newTestService(session, &captureProcessor{})
	strategy, _ := parser.Default().Lookup(announcement.Prequalification)

	records := svc.parseList(ctx, session, strategy, 0)
	require.Len(t, records, 3)
	assert.Equal(t, "https://ecp.test/doc/9", announcement.Value(records[0].DetailURL))
	assert.Equal(t, "https://ecp.test/portal/#/detail/7", announcement.Value(records[1].DetailURL))
	assert.Equal(t, "https://other.test/x", announcement.Value(records[2].DetailURL))
}

func TestRunCrawlNavigationFailure(t *testing.T) {
	site := testSite()
	site[homeURL] = `<html><body><p>maintenance</p></body></html>`
	session := newFakeSession(site)
	runs := &memRuns{}
	proc := &captureProcessor{}
	svc := newTestService(session, proc, WithRunRecorder(runs))

	res, err := svc.RunCrawl(context.Background(), announcement.BiddingAnnouncement, RunOptions{})

	require.NoError(t, err)
	assert.Equal(t, OutcomeNavigationFailed, res.Outcome)
	assert.Equal(t, StageNavClicked, res.FailedStage)
	assert.Nil(t, proc.records)
	assert.True(t, session.released)
	assert.Equal(t, storage.RunNavigationFailed, runs.last().State)
	assert.Equal(t, string(StageNavClicked), runs.last().FailedStage)
}

func TestRunCrawlListTimeout(t *testing.T) {
	site := testSite()
	site[listURL] = `<html><body><p>loading</p></body></html>`
	svc := newTestService(newFakeSession(site), &captureProcessor{})

	res, err := svc.RunCrawl(context.Background(), announcement.BiddingAnnouncement, RunOptions{})

	require.NoError(t, err)
	assert.Equal(t, OutcomeNavigationFailed, res.Outcome)
	assert.Equal(t, StageListReady, res.FailedStage)
}

func TestRunCrawlLimitAndNoStore(t *testing.T) {
	session := newFakeSession(testSite())
	proc := &captureProcessor{}
	svc := newTestService(session, proc)

	res, err := svc.RunCrawl(context.Background(), announcement.BiddingAnnouncement, RunOptions{Limit: 2, NoStore: true})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Listed)
	assert.Len(t, res.Records, 2)
	assert.Nil(t, proc.records)
	assert.Zero(t, res.Inserted)
}

func TestRunCrawlUnsupportedCategory(t *testing.T) {
	launcher := LauncherFunc(func(ctx context.Context) (Session, error) {
		t.Fatal("no session should be acquired")
		return nil, nil
	})
	svc := NewService(launcher, parser.NewRegistry(parser.NewBidding()), nil, testConfig(), logger.Nop())

	_, err := svc.RunCrawl(context.Background(), announcement.Procurement, RunOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedCategory)
}

func TestRunCrawlSessionFailure(t *testing.T) {
	runs := &memRuns{}
	launcher := LauncherFunc(func(ctx context.Context) (Session, error) {
		return nil, errors.New("chrome not found")
	})
	svc := NewService(launcher, nil, nil, testConfig(), logger.Nop(), WithRunRecorder(runs), WithPacer(instantPacer()))

	_, err := svc.RunCrawl(context.Background(), announcement.BiddingAnnouncement, RunOptions{})

	assert.ErrorContains(t, err, "chrome not found")
	assert.Equal(t, storage.RunFailed, runs.last().State)
	assert.NotNil(t, runs.last().FinishedAt)
}

func TestRunCrawlRecoversPanic(t *testing.T) {
	session := newFakeSession(testSite())
	svc := newTestService(session, &captureProcessor{panics: true})

	_, err := svc.RunCrawl(context.Background(), announcement.BiddingAnnouncement, RunOptions{Limit: 1})

	assert.ErrorContains(t, err, "crawl panicked")
	assert.True(t, session.released)
}

func TestJitterStaysInRange(t *testing.T) {
	rnd := rand.New(rand.NewPCG(7, 9))
	for range 1000 {
		d := Jitter(3*time.Second, 8*time.Second, rnd)
		assert.GreaterOrEqual(t, d, 3*time.Second)
		assert.Less(t, d, 8*time.Second)
	}
	assert.Equal(t, time.Second, Jitter(time.Second, time.Second, rnd))
	assert.Equal(t, time.Second, Jitter(time.Second, 0, rnd))
}

func TestPacerPauseUsesRange(t *testing.T) {
	var slept []time.Duration
	p := NewPacer(rand.New(rand.NewPCG(1, 1)), func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})

	require.NoError(t, p.Pause(context.Background(), Range{Min: time.Second, Max: 2 * time.Second}))
	require.NoError(t, p.Wait(context.Background(), 250*time.Millisecond))

	require.Len(t, slept, 2)
	assert.GreaterOrEqual(t, slept[0], time.Second)
	assert.Less(t, slept[0], 2*time.Second)
	assert.Equal(t, 250*time.Millisecond, slept[1])
}

func TestSleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

func TestRowArena(t *testing.T) {
	a := NewRowArena()
	el := &fakeEl{}
	a.Put("s1", 0, el)
	a.Put("s1", 3, el)
	a.Put("s2", 0, el)

	got, ok := a.Get("s1", 3)
	assert.True(t, ok)
	assert.Same(t, el, got)
	assert.Equal(t, 2, a.Len("s1"))

	a.Clear("s1")
	_, ok = a.Get("s1", 0)
	assert.False(t, ok)
	assert.Equal(t, 1, a.Len("s2"))
}

func TestNewContext(t *testing.T) {
	assert.Equal(t, "T2", newContext([]string{"T0", "T1"}, []string{"T0", "T1", "T2"}))
	assert.Empty(t, newContext([]string{"T0"}, []string{"T0"}))
}
