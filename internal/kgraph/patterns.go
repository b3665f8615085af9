package kgraph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/moolen/voldiag/internal/logging"
)

// Confidence values produced by the inference pass.
const (
	PatternConfidence       = 0.7
	StorageCausesConfidence = 0.8
	LinuxCausesConfidence   = 0.7
	SymptomCausesConfidence = 0.6
	RelatedToConfidence     = 0.5
)

// Rule is one domain pattern. A rule fires for an issue of its Layer whose
// component is listed in Components and whose message contains any of the
// Indicators (plain, case-sensitive substring match).
type Rule struct {
	Name       string   `yaml:"name" json:"name"`
	Layer      Layer    `yaml:"layer" json:"layer"`
	Components []string `yaml:"components" json:"components"`
	Indicators []string `yaml:"indicators" json:"indicators"`
	// Implies lists "<layer>.<component>" pairs whose issues are linked to
	// the firing issue.
	Implies   []string `yaml:"implies" json:"implies"`
	RootCause string   `yaml:"root_cause" json:"root_cause"`
	FixPlan   string   `yaml:"fix_plan" json:"fix_plan"`
}

// Matches reports whether the rule fires for the issue.
func (r Rule) Matches(issue *Issue) bool {
	if issue.Layer != r.Layer || !slices.Contains(r.Components, issue.Component) {
		return false
	}
	for _, indicator := range r.Indicators {
		if indicator != "" && strings.Contains(issue.Message, indicator) {
			return true
		}
	}
	return false
}

// Validate checks the fields a rule needs to fire. Implies entries are not
// checked here; malformed ones are skipped during inference.
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if _, err := ParseLayer(string(r.Layer)); err != nil {
		return fmt.Errorf("%w: rule %q has unknown layer %q", ErrInvalidRule, r.Name, r.Layer)
	}
	if len(r.Components) == 0 {
		return fmt.Errorf("%w: rule %q has no components", ErrInvalidRule, r.Name)
	}
	if len(r.Indicators) == 0 {
		return fmt.Errorf("%w: rule %q has no indicators", ErrInvalidRule, r.Name)
	}
	if r.RootCause == "" {
		return fmt.Errorf("%w: rule %q has no root_cause", ErrInvalidRule, r.Name)
	}
	return nil
}

// parseImplication splits "layer.component".
func parseImplication(entry string) (Layer, string, error) {
	layerStr, component, ok := strings.Cut(entry, ".")
	if !ok || component == "" {
		return "", "", fmt.Errorf("%w: implication %q is not <layer>.<component>", ErrInvalidRule, entry)
	}
	layer, err := ParseLayer(layerStr)
	if err != nil {
		return "", "", fmt.Errorf("%w: implication %q: %v", ErrInvalidRule, entry, err)
	}
	return layer, component, nil
}

// causalEdge decides direction, type and confidence for a link created when
// a rule on firingLayer implies an issue on impliedLayer. Kubernetes issues
// are symptoms, so links from them are reversed to point at the cause.
func causalEdge(firingLayer, impliedLayer Layer) (reversed bool, relType string, confidence float64) {
	switch {
	case firingLayer == LayerStorage:
		return false, RelCauses, StorageCausesConfidence
	case firingLayer == LayerLinux && impliedLayer == LayerKubernetes:
		return false, RelCauses, LinuxCausesConfidence
	case firingLayer == LayerKubernetes && (impliedLayer == LayerLinux || impliedLayer == LayerStorage):
		return true, RelCauses, SymptomCausesConfidence
	default:
		return false, RelRelatedTo, RelatedToConfidence
	}
}

// InferenceResult reports what one inference pass did.
type InferenceResult struct {
	RulesFired          int                  `json:"rules_fired"`
	RelationshipsLinked int                  `json:"relationships_linked"`
	SkippedImplications int                  `json:"skipped_implications"`
	Candidates          []RootCauseCandidate `json:"candidates"`
}

// Infer runs the pattern rules over every issue, recording root cause
// candidates and linking the entities of implied issues. It is the graph's
// write barrier and must finish before concurrent readers are admitted.
//
// Re-running Infer is safe: candidates are keyed by (issue, rule) and
// edges by (source, target, type), so a rerun only adds what new issues
// contribute.
func (g *Graph) Infer(rules []Rule) InferenceResult {
	var res InferenceResult
	log := g.logger.WithField("pass", "inference")

	for _, issue := range g.issues {
		for _, rule := range rules {
			if !rule.Matches(issue) {
				continue
			}
			res.RulesFired++
			log.DebugWithFields("pattern matched",
				logging.Field("rule", rule.Name),
				logging.Field("issue", issue.ID),
				logging.Field("entity", issue.EntityID),
			)

			key := issue.ID + "\x00" + rule.Name
			if _, seen := g.candidateKeys[key]; !seen {
				g.candidateKeys[key] = struct{}{}
				c := RootCauseCandidate{
					IssueID:    issue.ID,
					EntityID:   issue.EntityID,
					RootCause:  rule.RootCause,
					FixPlan:    rule.FixPlan,
					Confidence: PatternConfidence,
					Origin:     OriginPattern,
					Rule:       rule.Name,
				}
				g.candidates = append(g.candidates, c)
				res.Candidates = append(res.Candidates, c)
			}

			for _, entry := range rule.Implies {
				layer, component, err := parseImplication(entry)
				if err != nil {
					res.SkippedImplications++
					g.stats.SkippedImplications++
					log.Warn("rule %s: %v", rule.Name, err)
					continue
				}
				res.RelationshipsLinked += g.linkImplied(issue, layer, component)
			}
		}
	}

	log.InfoWithFields("inference pass complete",
		logging.Field("issues", len(g.issues)),
		logging.Field("rules_fired", res.RulesFired),
		logging.Field("links", res.RelationshipsLinked),
		logging.Field("skipped", res.SkippedImplications),
	)
	return res
}

func (g *Graph) linkImplied(firing *Issue, layer Layer, component string) int {
	linked := 0
	for _, other := range g.issues {
		if other.ID == firing.ID || other.Layer != layer || other.Component != component {
			continue
		}
		if other.EntityID == firing.EntityID {
			continue
		}
		reversed, relType, confidence := causalEdge(firing.Layer, layer)
		src, dst := firing.EntityID, other.EntityID
		if reversed {
			src, dst = dst, src
		}
		if g.AddRelationship(src, dst, relType, confidence) {
			linked++
		}
	}
	return linked
}

// PatternCandidates returns the candidates recorded by inference so far.
func (g *Graph) PatternCandidates() []RootCauseCandidate {
	out := make([]RootCauseCandidate, len(g.candidates))
	copy(out, g.candidates)
	return out
}

// DefaultRules is the built-in rule table, grouped by layer.
func DefaultRules() []Rule {
	rules := make([]Rule, 0, len(storageRules)+len(linuxRules)+len(kubernetesRules))
	rules = append(rules, storageRules...)
	rules = append(rules, linuxRules...)
	rules = append(rules, kubernetesRules...)
	return rules
}

var storageRules = []Rule{
	{
		Name:       "bad_sectors",
		Layer:      LayerStorage,
		Components: []string{"smart", "drive_health"},
		Indicators: []string{"Bad sectors detected", "Reallocated_Sector_Ct", "Current_Pending_Sector", "Offline_Uncorrectable"},
		Implies:    []string{"linux.kernel", "linux.filesystem", "kubernetes.pod_logs", "kubernetes.pod_status"},
		RootCause:  "Physical drive media degradation (bad or pending sectors)",
		FixPlan:    "Replace the failing drive; migrate volume data to a healthy drive and reschedule affected pods",
	},
	{
		Name:       "drive_health_failed",
		Layer:      LayerStorage,
		Components: []string{"drive_health", "drive_status", "smart"},
		Indicators: []string{"Health: BAD", "health=BAD", "self-assessment test result: FAILED", "OFFLINE"},
		Implies:    []string{"kubernetes.pv", "kubernetes.pod_logs", "linux.kernel"},
		RootCause:  "Drive reported unhealthy by SMART or the CSI drive manager",
		FixPlan:    "Mark the drive for replacement, cordon the node's storage and restore data from replicas or backup",
	},
	{
		Name:       "nvme_media_errors",
		Layer:      LayerStorage,
		Components: []string{"nvme"},
		Indicators: []string{"media_errors", "critical_warning", "Media and Data Integrity Errors"},
		Implies:    []string{"linux.kernel", "kubernetes.pod_logs"},
		RootCause:  "NVMe controller reporting media or data integrity errors",
		FixPlan:    "Check NVMe firmware and error log; replace the device if media errors keep increasing",
	},
	{
		Name:       "capacity_exhausted",
		Layer:      LayerStorage,
		Components: []string{"disk_space", "available_capacity"},
		Indicators: []string{"No space left", "capacity exhausted", "100% used", "insufficient capacity"},
		Implies:    []string{"kubernetes.pod_logs", "kubernetes.pvc", "linux.filesystem"},
		RootCause:  "Backing storage has run out of capacity",
		FixPlan:    "Free space or expand the volume; add drives to the storage pool if available capacity is exhausted",
	},
}

var linuxRules = []Rule{
	{
		Name:       "kernel_io_errors",
		Layer:      LayerLinux,
		Components: []string{"kernel", "dmesg"},
		Indicators: []string{"I/O error", "blk_update_request", "Buffer I/O error", "critical medium error"},
		Implies:    []string{"kubernetes.pod_logs", "kubernetes.pod_status", "storage.smart"},
		RootCause:  "Kernel block layer reporting I/O errors on the backing device",
		FixPlan:    "Identify the device from dmesg, run SMART diagnostics and remount or replace the device",
	},
	{
		Name:       "filesystem_corruption",
		Layer:      LayerLinux,
		Components: []string{"filesystem"},
		Indicators: []string{"EXT4-fs error", "XFS (", "corruption", "Remounting filesystem read-only"},
		Implies:    []string{"kubernetes.pod_logs", "storage.smart"},
		RootCause:  "Filesystem corruption on the volume",
		FixPlan:    "Unmount the volume and run fsck/xfs_repair, then verify the underlying drive health",
	},
	{
		Name:       "mount_failure",
		Layer:      LayerLinux,
		Components: []string{"mount"},
		Indicators: []string{"mount failed", "wrong fs type", "not mounted", "Stale file handle"},
		Implies:    []string{"kubernetes.pod_status", "kubernetes.csi_driver"},
		RootCause:  "Volume cannot be mounted on the node",
		FixPlan:    "Inspect mount options and device presence on the node; restart the CSI node plugin if the device is healthy",
	},
	{
		Name:       "io_saturation",
		Layer:      LayerLinux,
		Components: []string{"disk_io", "io_performance"},
		Indicators: []string{"high latency", "iowait", "throughput degraded", "queue depth saturated"},
		Implies:    []string{"kubernetes.pod_logs"},
		RootCause:  "Disk I/O saturation causing latency and timeouts",
		FixPlan:    "Identify noisy neighbours with iostat, rebalance workloads or move the volume to a faster drive",
	},
}

var kubernetesRules = []Rule{
	{
		Name:       "pod_io_errors",
		Layer:      LayerKubernetes,
		Components: []string{"pod_logs"},
		Indicators: []string{"I/O errors detected", "Input/output error", "Read-only file system"},
		Implies:    []string{"linux.kernel", "linux.filesystem", "storage.smart", "storage.drive_health"},
		RootCause:  "Application observing I/O errors on its volume",
		FixPlan:    "Correlate the pod's volume with node kernel logs and drive health to locate the failing layer",
	},
	{
		Name:       "volume_mount_failure",
		Layer:      LayerKubernetes,
		Components: []string{"pod_status", "events"},
		Indicators: []string{"FailedMount", "FailedAttachVolume", "MountVolume.SetUp failed"},
		Implies:    []string{"linux.mount", "kubernetes.csi_driver"},
		RootCause:  "Kubernetes failed to attach or mount the pod's volume",
		FixPlan:    "Check the CSI node plugin logs and the node's mount table for the volume",
	},
	{
		Name:       "pvc_not_bound",
		Layer:      LayerKubernetes,
		Components: []string{"pvc"},
		Indicators: []string{"Pending", "ProvisioningFailed", "waiting for first consumer"},
		Implies:    []string{"kubernetes.csi_driver", "storage.available_capacity"},
		RootCause:  "PersistentVolumeClaim could not be bound to a volume",
		FixPlan:    "Verify the storage class, CSI controller health and available capacity on candidate nodes",
	},
	{
		Name:       "csi_driver_failure",
		Layer:      LayerKubernetes,
		Components: []string{"csi_driver"},
		Indicators: []string{"CrashLoopBackOff", "driver name not found", "rpc error"},
		Implies:    []string{"kubernetes.pod_status"},
		RootCause:  "CSI driver components are unhealthy",
		FixPlan:    "Restart the CSI controller and node pods and check their logs for registration errors",
	},
}
