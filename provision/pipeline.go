package provision

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"relayforge/cloudflare"
	"relayforge/hub"
	"relayforge/model"
	"relayforge/panel"
	"relayforge/remote"
	"relayforge/saga"
	"relayforge/secrets"
	"relayforge/storage"
)

// The pipeline consumes its collaborators through narrow interfaces so
// runs can be exercised without a database or live providers.

type Store interface {
	CountNodesByCountry(ctx context.Context, countryCode string) (int, error)
	CreateNodeWithCluster(ctx context.Context, n *model.Node) (string, bool, error)
	DeactivateNode(ctx context.Context, name string) error
}

type Panel interface {
	MaskingParams(ctx context.Context) (string, int, error)
	RegisterNode(ctx context.Context, name, address string) error
	ListNodes(ctx context.Context) ([]panel.Node, error)
	DeleteNode(ctx context.Context, id int) error
}

type DNS interface {
	ZoneID(ctx context.Context, name string) (string, error)
	CreateRecord(ctx context.Context, zoneID string, rec cloudflare.Record) error
	ListRecords(ctx context.Context, zoneID, name string) ([]cloudflare.Record, error)
	DeleteRecord(ctx context.Context, zoneID, recordID string) error
}

type Geo interface {
	Lookup(ctx context.Context, ip string) (country, city string, err error)
	PublicIP(ctx context.Context) (string, error)
}

type Remote interface {
	Apply(ctx context.Context, projectDir string, t remote.Target) (*remote.Result, error)
}

// Pipeline drives a bare host into an active, registered, clustered
// relay node, and back out again.
type Pipeline struct {
	Store   Store
	Panel   Panel
	DNS     DNS
	Geo     Geo
	Remote  Remote
	Secrets *secrets.Box

	SagaStore saga.Store      // optional
	WS        *hub.Hub        // optional
	Archive   *storage.Client // optional
	Bucket    string

	MainDomain     string
	TestEnv        bool
	SetupTemplate  string
	CertPath       string
	RunDir         string
	PanelDomainSNI bool

	// SettleDelay is the wait after DNS record creation; zero in tests.
	SettleDelay time.Duration
}

const defaultSettleDelay = 30 * time.Second

// allowAllSentinel stands in for the panel IP when discovery fails:
// the node then allow-lists the world rather than locking the panel
// out.
const allowAllSentinel = "0.0.0.0/0"

type runState struct {
	runID      string
	ip         string
	panelIP    string
	sni        string
	port       int
	country    string
	city       string
	seq        int
	nodeName   string
	domain     string
	projectDir string
}

// Provision takes an IP and its root credential through the full
// deploy sequence. It never fails past this boundary: every outcome is
// a (success, report) pair, with unexpected panics folded into a fatal
// result.
func (p *Pipeline) Provision(ctx context.Context, ip, rootPassword string) (ok bool, out string) {
	st := &runState{runID: uuid.New().String(), ip: ip}
	sg := p.newSaga(ip)
	rep := newReport()
	rep.Addf("🚀 Starting deploy for %s...", ip)

	defer func() {
		if r := recover(); r != nil {
			log.Printf("provision %s: fatal: %v", st.runID, r)
			p.emit(ctx, sg, "provision.fatal", fmt.Sprintf("%v", r))
			ok = false
			out = fmt.Sprintf("Fatal Error: %v", r)
		}
	}()

	// 1. Own public IP, for the node's allow-list. Best effort.
	st.panelIP = allowAllSentinel
	if selfIP, err := p.Geo.PublicIP(ctx); err != nil {
		rep.Warnf("could not determine panel IP: %v", err)
	} else {
		st.panelIP = selfIP
	}

	// 2. Masking parameters. Hard dependency: without a real SNI and
	// port the node would come up unmasked, so there is no safe
	// fallback and the run aborts.
	sni, port, err := p.Panel.MaskingParams(ctx)
	if err != nil {
		log.Printf("provision %s: masking params: %v", st.runID, err)
		p.emit(ctx, sg, "provision.fatal", err.Error())
		return false, fmt.Sprintf("Fatal Error: %v", err)
	}
	st.sni, st.port = sni, port
	rep.Addf("🎭 Masking: %s:%d", sni, port)

	// 3. Geolocation. Best effort, sentinel fallback.
	st.country, st.city = model.UnknownCountry, model.UnknownCity
	if country, city, err := p.Geo.Lookup(ctx, ip); err != nil {
		rep.Warnf("GeoIP error: %v", err)
	} else {
		st.country = country
		st.city = model.CityCode(city)
	}

	// 4+5. Name and domain from a fresh per-country count.
	count, err := p.Store.CountNodesByCountry(ctx, st.country)
	if err != nil {
		log.Printf("provision %s: count nodes: %v", st.runID, err)
		p.emit(ctx, sg, "provision.fatal", err.Error())
		return false, fmt.Sprintf("Fatal Error: %v", err)
	}
	st.seq = count + 1
	st.nodeName = model.NodeName(st.country, st.city, st.seq)

	domainRoot := p.MainDomain
	if p.TestEnv {
		domainRoot = "test." + p.MainDomain
	}
	st.domain = model.NodeDomain(st.country, st.seq, domainRoot)

	// 6. DNS record. Best effort; a failed record is fixable by hand
	// later. On success, wait out propagation before anything resolves
	// the new name.
	p.stepStart(ctx, sg, st.nodeName, "dns-record")
	dnsStarted := time.Now()
	if err := p.createDNSRecord(ctx, st); err != nil {
		rep.Warnf("Cloudflare error: %v", err)
		p.stepFailed(ctx, sg, st.nodeName, "dns-record", err)
	} else {
		rep.Addf("✅ DNS: %s", st.domain)
		rep.Add("⏳ Waiting for DNS propagation...")
		p.stepComplete(ctx, sg, st.nodeName, "dns-record", dnsStarted)
		p.settle(ctx)
	}

	// 7. Stage the per-run workspace.
	projectDir, err := stageWorkspace(p.RunDir, st.runID, p.SetupTemplate)
	if err != nil {
		p.emit(ctx, sg, "provision.failed", err.Error())
		return false, fmt.Sprintf("❌ %v", err)
	}
	st.projectDir = projectDir

	// 8. Panel trust certificate.
	cert, err := os.ReadFile(p.CertPath)
	if err != nil {
		p.emit(ctx, sg, "provision.failed", err.Error())
		return false, fmt.Sprintf("❌ Cert error (%s): %v", p.CertPath, err)
	}

	if err := writeVars(projectDir, remote.Vars{
		PanelCert:   string(cert),
		RealitySNI:  st.sni,
		RealityPort: st.port,
		MainPanelIP: st.panelIP,
		NodeDomain:  st.domain,
	}); err != nil {
		p.emit(ctx, sg, "provision.failed", err.Error())
		return false, fmt.Sprintf("❌ %v", err)
	}

	// 9. Remote apply. Runs for minutes; awaited in its own goroutine
	// so the caller's scheduler keeps breathing.
	rep.Add("⚙️ Running remote setup...")
	p.stepStart(ctx, sg, st.nodeName, "remote-apply")
	applyStarted := time.Now()
	res, err := p.applyAsync(ctx, st, rootPassword)
	if err != nil {
		p.stepFailed(ctx, sg, st.nodeName, "remote-apply", err)
		p.emit(ctx, sg, "provision.fatal", err.Error())
		return false, fmt.Sprintf("Fatal Error: %v", err)
	}
	if res.Status != remote.StatusSuccessful {
		p.stepFailed(ctx, sg, st.nodeName, "remote-apply", errors.New(res.Status))
		p.emit(ctx, sg, "provision.failed", res.Status)
		return false, fmt.Sprintf("❌ Remote setup failed: %s", res.Status)
	}
	p.stepComplete(ctx, sg, st.nodeName, "remote-apply", applyStarted)
	rep.Add("✅ Software installed.")

	// 10. Panel registration. Best effort: the node row is still
	// written so an operator can relink later.
	p.stepStart(ctx, sg, st.nodeName, "register-panel")
	registerStarted := time.Now()
	if err := p.Panel.RegisterNode(ctx, st.nodeName, st.domain); err != nil {
		rep.Warnf("Panel API error: %v", err)
		p.stepFailed(ctx, sg, st.nodeName, "register-panel", err)
	} else {
		rep.Add("✅ Node linked to panel.")
		p.stepComplete(ctx, sg, st.nodeName, "register-panel", registerStarted)
	}

	// 11+12. Persist the node and cluster it, one transaction.
	sealed, err := p.Secrets.Encrypt(rootPassword)
	if err != nil {
		p.emit(ctx, sg, "provision.fatal", err.Error())
		return false, fmt.Sprintf("Fatal Error: %v", err)
	}

	node := &model.Node{
		Name:              st.nodeName,
		IP:                ip,
		Domain:            st.domain,
		CountryCode:       st.country,
		IsActive:          true,
		SNIDomain:         st.sni,
		Port:              443,
		EncryptedPassword: sealed,
	}

	rep.Add("🧩 Auto-clustering...")
	p.stepStart(ctx, sg, st.nodeName, "persist-node")
	persistStarted := time.Now()
	clusterName, created, err := p.Store.CreateNodeWithCluster(ctx, node)
	if err != nil {
		log.Printf("provision %s: persist node: %v", st.runID, err)
		p.stepFailed(ctx, sg, st.nodeName, "persist-node", err)
		p.emit(ctx, sg, "provision.fatal", err.Error())
		return false, fmt.Sprintf("Fatal Error: %v", err)
	}
	p.stepComplete(ctx, sg, st.nodeName, "persist-node", persistStarted)
	if created {
		rep.Addf("✅ Created cluster: %s", clusterName)
	} else {
		rep.Addf("✅ Joined cluster: %s", clusterName)
	}

	rep.Addf("🎉 Done! Node %s is live.", st.nodeName)
	p.emit(ctx, sg, "provision.complete", st.nodeName)
	p.broadcast("provision.done", st.nodeName, map[string]string{"runId": st.runID})
	p.archive(ctx, st, rep)

	return true, rep.String()
}

func (p *Pipeline) createDNSRecord(ctx context.Context, st *runState) error {
	zoneID, err := p.DNS.ZoneID(ctx, p.MainDomain)
	if err != nil {
		return err
	}
	return p.DNS.CreateRecord(ctx, zoneID, cloudflare.Record{
		Type:    "A",
		Name:    st.domain,
		Content: st.ip,
		Proxied: false,
	})
}

// applyAsync runs the remote apply off this goroutine and awaits it.
func (p *Pipeline) applyAsync(ctx context.Context, st *runState, rootPassword string) (*remote.Result, error) {
	type outcome struct {
		res *remote.Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := p.Remote.Apply(ctx, st.projectDir, remote.Target{
			Host:     st.ip,
			User:     "root",
			Password: rootPassword,
		})
		ch <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-ch:
		return o.res, o.err
	}
}

func (p *Pipeline) settle(ctx context.Context) {
	d := p.SettleDelay
	if d == 0 {
		d = defaultSettleDelay
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (p *Pipeline) archive(ctx context.Context, st *runState, rep *report) {
	if p.Archive == nil || p.Bucket == "" {
		return
	}
	key := st.nodeName + "-" + st.runID
	if err := p.Archive.PutReport(ctx, p.Bucket, key, []byte(rep.String())); err != nil {
		log.Printf("provision %s: archive report: %v", st.runID, err)
	}
}

func (p *Pipeline) newSaga(ip string) *saga.Saga {
	if p.SagaStore == nil {
		return nil
	}
	return saga.New(p.SagaStore, ip, "pipeline", "provision")
}

func (p *Pipeline) emit(ctx context.Context, sg *saga.Saga, action, message string) {
	if sg != nil {
		if err := sg.Log(ctx, action, message, nil); err != nil {
			log.Printf("saga: %v", err)
		}
	}
	p.broadcast(action, "", map[string]string{"message": message})
}

func (p *Pipeline) stepStart(ctx context.Context, sg *saga.Saga, node, step string) {
	if sg != nil {
		if err := sg.StepStart(ctx, step); err != nil {
			log.Printf("saga: %v", err)
		}
	}
	p.broadcast("provision.step", node, map[string]string{"step": step, "status": "running"})
}

func (p *Pipeline) stepComplete(ctx context.Context, sg *saga.Saga, node, step string, started time.Time) {
	if sg != nil {
		if err := sg.StepComplete(ctx, step, time.Since(started).Milliseconds()); err != nil {
			log.Printf("saga: %v", err)
		}
	}
	p.broadcast("provision.step", node, map[string]string{"step": step, "status": "complete"})
}

func (p *Pipeline) stepFailed(ctx context.Context, sg *saga.Saga, node, step string, cause error) {
	if sg != nil {
		if err := sg.StepFailed(ctx, step, cause); err != nil {
			log.Printf("saga: %v", err)
		}
	}
	p.broadcast("provision.step", node, map[string]string{"step": step, "status": "failed", "error": cause.Error()})
}

func (p *Pipeline) broadcast(typ, node string, payload map[string]string) {
	if p.WS == nil {
		return
	}
	p.WS.Broadcast(hub.Event{Type: typ, Node: node, Payload: payload})
}
