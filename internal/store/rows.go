package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen/internal/model"
)

// Column lists shared by both backends.
const (
	poolColumns    = `id, owner, name, description, icp, created_at`
	jobColumns     = `id, pool_id, status, providers, templates, icp, counters, logs, cancel_requested, created_at, started_at, finished_at`
	companyColumns = `id, job_id, pool_id, domain, name, source, technologies, pages_crawled, crawled, created_at`
	contactColumns = `id, job_id, pool_id, company_id, domain, email, name, title, source, inferred, confidence, score, verification, created_at`
)

var contactColumnList = []string{
	"id", "job_id", "pool_id", "company_id", "domain", "email", "name", "title",
	"source", "inferred", "confidence", "score", "verification", "created_at",
}

// jobRow holds the encoded JSON columns of a jobs row.
type jobRow struct {
	job       model.Job
	providers []byte
	templates []byte
	icp       []byte
	counters  []byte
	logs      []byte
}

func encodeJob(j *model.Job) (providers, templates, icp, counters, logs []byte, err error) {
	if providers, err = json.Marshal(j.Providers); err != nil {
		return nil, nil, nil, nil, nil, eris.Wrap(err, "store: marshal providers")
	}
	tpl := j.Templates
	if tpl == nil {
		tpl = []string{}
	}
	if templates, err = json.Marshal(tpl); err != nil {
		return nil, nil, nil, nil, nil, eris.Wrap(err, "store: marshal templates")
	}
	if icp, err = json.Marshal(j.ICP); err != nil {
		return nil, nil, nil, nil, nil, eris.Wrap(err, "store: marshal icp")
	}
	if counters, err = json.Marshal(j.Counters); err != nil {
		return nil, nil, nil, nil, nil, eris.Wrap(err, "store: marshal counters")
	}
	if logs, err = marshalLogs(j.Logs); err != nil {
		return nil, nil, nil, nil, nil, err
	}
	return providers, templates, icp, counters, logs, nil
}

func marshalLogs(logs []model.LogEntry) ([]byte, error) {
	if logs == nil {
		logs = []model.LogEntry{}
	}
	b, err := json.Marshal(logs)
	return b, eris.Wrap(err, "store: marshal logs")
}

func (r *jobRow) decode() (*model.Job, error) {
	j := r.job
	if err := json.Unmarshal(r.providers, &j.Providers); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal providers")
	}
	if len(r.templates) > 0 {
		if err := json.Unmarshal(r.templates, &j.Templates); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal templates")
		}
	}
	if err := json.Unmarshal(r.icp, &j.ICP); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal icp")
	}
	if err := json.Unmarshal(r.counters, &j.Counters); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal counters")
	}
	if err := json.Unmarshal(r.logs, &j.Logs); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal logs")
	}
	return &j, nil
}

func utcPtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}
