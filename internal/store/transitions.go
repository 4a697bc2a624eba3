package store

import (
	"fmt"

	"github.com/vidforge/orchestrator/internal/orcherr"
)

// terminalStatuses are the statuses with no further outgoing transition:
// one success state and the per-stage failure states (§3.2).
var terminalStatuses = map[Status]bool{
	StatusPublished:   true,
	StatusCancelled:   true,
	StatusAssetError:  true,
	StatusVideoError:  true,
	StatusAudioError:  true,
	StatusUploadError: true,
}

// legalTransitions enumerates the pipeline DAG from §4.7: every (from, to)
// pair a caller may compare-and-set between. Cancellation is handled
// separately in legalTransition, since it is legal from every non-terminal
// status rather than a fixed set of them.
var legalTransitions = map[Status]map[Status]bool{
	StatusDraft: {
		StatusQueued: true,
	},
	StatusQueued: {
		StatusClaimed: true,
	},
	StatusClaimed: {
		StatusGeneratingAssets: true,
		StatusQueued:           true, // gate release before the stage ran
	},
	StatusGeneratingAssets: {
		StatusAssetsReady: true,
		StatusQueued:      true, // retriable failure
		StatusAssetError:  true, // fatal failure
	},
	StatusAssetsReady: {
		StatusAssetsApproved: true, // approve_gate
		StatusAssetError:     true, // reject_gate
	},
	StatusAssetsApproved: {
		StatusGeneratingComposites: true,
	},
	StatusGeneratingComposites: {
		StatusCompositesReady: true,
		StatusAssetsApproved:  true,
		StatusAssetError:      true,
	},
	StatusCompositesReady: {
		StatusGeneratingVideo: true,
	},
	StatusGeneratingVideo: {
		StatusVideoReady:      true,
		StatusCompositesReady: true,
		StatusVideoError:      true,
	},
	StatusVideoReady: {
		StatusVideoApproved: true, // approve_gate
		StatusVideoError:    true, // reject_gate
	},
	StatusVideoApproved: {
		StatusGeneratingAudio: true,
	},
	StatusGeneratingAudio: {
		StatusAudioReady:    true,
		StatusVideoApproved: true,
		StatusAudioError:    true,
	},
	StatusAudioReady: {
		StatusAudioApproved: true, // approve_gate
		StatusAudioError:    true, // reject_gate
	},
	StatusAudioApproved: {
		StatusGeneratingSFX: true,
	},
	StatusGeneratingSFX: {
		StatusSFXReady:      true,
		StatusAudioApproved: true,
		StatusAudioError:    true,
	},
	StatusSFXReady: {
		StatusAssembling: true,
	},
	StatusAssembling: {
		StatusAssemblyReady: true,
		StatusSFXReady:      true,
		StatusVideoError:    true,
	},
	StatusAssemblyReady: {
		StatusFinalReview: true, // automatic, no tool invocation
	},
	StatusFinalReview: {
		StatusApproved:   true, // approve_gate
		StatusVideoError: true, // reject_gate (no dedicated final-review terminal exists)
	},
	StatusApproved: {
		StatusUploading: true,
		StatusApproved:  true, // quota-gate self-release, re-claimed on the next scheduler pass
	},
	StatusUploading: {
		StatusPublished:   true,
		StatusApproved:    true, // retriable failure
		StatusUploadError: true, // fatal failure
	},
}

// legalTransition reports whether to is a legal destination from the
// current status from, per the pipeline DAG (invariant I3). Cancellation
// is legal from any status that isn't already terminal.
func legalTransition(from, to Status) bool {
	if to == StatusCancelled {
		return !terminalStatuses[from]
	}
	return legalTransitions[from][to]
}

func illegalTransitionError(from, to Status) error {
	return &orcherr.ValidationError{
		Field:  "status",
		Reason: fmt.Sprintf("%s -> %s is not a legal pipeline transition", from, to),
	}
}
