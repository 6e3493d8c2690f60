// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classify maps a stage failure to a FailureDomain.
//
// # Description
//
// The recorded stage is a hint, not the answer: a configuration run that
// failed because the uplink dropped is a network failure. The Classifier
// therefore re-probes the machine, in priority order, and the first
// failing probe names the domain.
//
// A probe only counts once the pipeline has reached the stage its domain
// is about. While the pipeline is still at network bring-up, the absence
// of a source tree says nothing.
//
// # Usage
//
//	c := classify.NewClassifier(logger, 30*time.Second)
//	for _, p := range classify.DefaultProbes(deps) {
//	    c.Register(p)
//	}
//	diag := c.Classify(ctx, pipeline.StageConfigurationBootstrap)
package classify
