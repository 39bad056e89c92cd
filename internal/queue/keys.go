package queue

import "github.com/cuongbtq/e2e-report-worker/internal/worker/domain"

// DefaultKeyPrefix prefixes every key the queue writes
const DefaultKeyPrefix = "jobs:"

type keys struct {
	prefix string
}

// ready returns the list key of ready envelopes: jobs:{type}:ready
func (k keys) ready(jt domain.JobType) string { return k.prefix + string(jt) + ":ready" }

// delayed returns the sorted set key of retries, scored by due time: jobs:{type}:delayed
func (k keys) delayed(jt domain.JobType) string { return k.prefix + string(jt) + ":delayed" }

// dead returns the list key of dead letters: jobs:{type}:dead
func (k keys) dead(jt domain.JobType) string { return k.prefix + string(jt) + ":dead" }

// once returns the marker key of a one-shot claim: jobs:once:{name}
func (k keys) once(name string) string { return k.prefix + "once:" + name }
