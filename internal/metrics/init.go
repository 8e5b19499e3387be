package metrics

// Stage names used as label values. Kept here so the pipeline and the
// pre-populated series agree.
var stageNames = []string{"discovery", "reference_import", "metadata_enrichment", "content_analysis", "face_analysis"}

// InitializeMetrics pre-populates the expected label combinations so every
// series is exported from the first scrape.
func InitializeMetrics() {
	volumes := []string{"library", "reference", "other"}
	ops := []string{"stat", "open", "readdir"}
	for _, vol := range volumes {
		for _, op := range ops {
			FilesystemOperationDuration.WithLabelValues(vol, op)
			FilesystemOperationErrors.WithLabelValues(vol, op)
			FilesystemRetryAttempts.WithLabelValues(op, vol)
			FilesystemRetrySuccess.WithLabelValues(op, vol)
			FilesystemRetryFailures.WithLabelValues(op, vol)
			FilesystemStaleErrors.WithLabelValues(op, vol)
			FilesystemRetryDuration.WithLabelValues(op, vol)
		}
	}

	for _, action := range []string{"inserted", "updated", "deleted", "unchanged"} {
		ReconcileAssetsTotal.WithLabelValues(action)
	}
	for _, result := range []string{"success", "error"} {
		ReconcileRunsTotal.WithLabelValues(result)
	}

	for _, kind := range []string{"library", "full"} {
		PipelineRequestsDropped.WithLabelValues(kind)
		for _, result := range []string{"success", "failed", "cancelled"} {
			PipelineRunsTotal.WithLabelValues(kind, result)
		}
	}

	for _, stage := range stageNames {
		StageDuration.WithLabelValues(stage)
		StageProgress.WithLabelValues(stage)
		for _, outcome := range []string{"success", "retry", "permanent_failure", "cancelled"} {
			StageOutcomesTotal.WithLabelValues(stage, outcome)
		}
	}

	for _, result := range []string{"complete", "partial", "deferred"} {
		EnrichAssetsTotal.WithLabelValues(result)
	}
	for _, stage := range []string{"content_analysis", "face_analysis"} {
		for _, result := range []string{"success", "error"} {
			AnalysisItemsTotal.WithLabelValues(stage, result)
		}
	}

	for _, tier := range []string{"0.01", "0.1", "1", "10", "full_scan", "empty"} {
		GeocodeLookupsTotal.WithLabelValues(tier)
	}

	for _, op := range []string{"identify", "ignore", "assign", "create", "rename", "merge", "delete", "delete_empty", "recount"} {
		IdentityOperationsTotal.WithLabelValues(op, "success")
		IdentityOperationsTotal.WithLabelValues(op, "error")
	}

	for _, result := range []string{"hit", "miss"} {
		SettingsCacheLookups.WithLabelValues(result)
	}

	for _, stage := range []string{"metadata", "analysis", "faces"} {
		LibraryPending.WithLabelValues(stage)
	}
	for _, state := range []string{"pending", "manual", "auto", "ignored"} {
		LibraryFaces.WithLabelValues(state)
	}

	for _, op := range []string{"upsert_photos", "delete_photos", "load_projection", "update_metadata",
		"pending_metadata", "pending_analysis", "pending_faces", "update_analysis", "insert_analysis_log",
		"insert_faces", "identify_face", "assign_face", "ignore_face", "create_person", "rename_person",
		"merge_persons", "delete_person", "delete_empty_persons", "recount_persons", "update_centroid",
		"nearest_city_box", "nearest_city", "insert_cities", "get_setting", "set_setting"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}

	for _, outcome := range []string{"commit", "rollback"} {
		DBTransactionDuration.WithLabelValues(outcome)
	}
}
