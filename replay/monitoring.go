// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package replay

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	recorderRecordingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gocapture_recorder_recording",
		Help: "Count of active recorders recording.",
	})

	recorderErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gocapture_recorder_errors",
		Help: "Count of general recorder errors encountered.",
	}, []string{"type"})

	recorderTokens = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gocapture_recorder_tokens",
		Help: "Count of recorded tokens.",
	})

	playerPlayingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gocapture_player_playing",
		Help: "Count of active players replaying tokens.",
	})

	playerPausedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gocapture_player_paused",
		Help: "Set when the player is paused, cleared on resume.",
	})

	playerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gocapture_player_error_count",
		Help: "Count of player errors encountered during playback.",
	})

	playerTokens = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gocapture_player_tokens",
		Help: "Count of tokens run by the player.",
	})

	playerYields = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gocapture_player_yields",
		Help: "Count of player yield points, by reason.",
	}, []string{"reason"})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		// Recorder
		recorderRecordingGauge,
		recorderErrors,
		recorderTokens,

		// Player
		playerPlayingGauge,
		playerPausedGauge,
		playerErrors,
		playerTokens,
		playerYields,
	)
}
