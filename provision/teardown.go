package provision

import (
	"context"
	"log"
	"strings"

	"relayforge/saga"
)

// Deprovision withdraws a node from the panel, removes its DNS records
// and deactivates its row. Each of the three blocks is best effort and
// isolated: a dead provider never blocks the rest of the cleanup.
func (p *Pipeline) Deprovision(ctx context.Context, nodeName, domain string) {
	sg := p.newTeardownSaga(nodeName)
	p.emit(ctx, sg, "teardown.start", nodeName)

	// Panel unlink. Matched by name since the panel assigns its own ids.
	if nodes, err := p.Panel.ListNodes(ctx); err != nil {
		log.Printf("teardown %s: list panel nodes: %v", nodeName, err)
	} else {
		for _, n := range nodes {
			if n.Name != nodeName {
				continue
			}
			if err := p.Panel.DeleteNode(ctx, n.ID); err != nil {
				log.Printf("teardown %s: delete panel node %d: %v", nodeName, n.ID, err)
			}
		}
	}

	// DNS records. Everything under the node's domain goes.
	if domain != "" {
		p.deleteDNSRecords(ctx, nodeName, domain)
	}

	// Topology row last, so a crash mid-teardown leaves the node
	// visible for a retry.
	if err := p.Store.DeactivateNode(ctx, nodeName); err != nil {
		log.Printf("teardown %s: deactivate: %v", nodeName, err)
		p.emit(ctx, sg, "teardown.failed", err.Error())
		return
	}

	p.emit(ctx, sg, "teardown.complete", nodeName)
	p.broadcast("teardown.done", nodeName, nil)
}

func (p *Pipeline) deleteDNSRecords(ctx context.Context, nodeName, domain string) {
	zoneID, err := p.DNS.ZoneID(ctx, p.MainDomain)
	if err != nil {
		log.Printf("teardown %s: zone lookup: %v", nodeName, err)
		return
	}
	recs, err := p.DNS.ListRecords(ctx, zoneID, domain)
	if err != nil {
		log.Printf("teardown %s: list records: %v", nodeName, err)
		return
	}
	for _, rec := range recs {
		if !strings.EqualFold(rec.Name, domain) {
			continue
		}
		if err := p.DNS.DeleteRecord(ctx, zoneID, rec.ID); err != nil {
			log.Printf("teardown %s: delete record %s: %v", nodeName, rec.ID, err)
		}
	}
}

func (p *Pipeline) newTeardownSaga(node string) *saga.Saga {
	if p.SagaStore == nil {
		return nil
	}
	return saga.New(p.SagaStore, node, "pipeline", "teardown")
}
