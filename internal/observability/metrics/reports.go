package metrics

// RecordSubmission counts a finished submission workflow. kind is
// "accusation" or "self"; outcome is "committed", "skipped_benign",
// "partial", "pending", "duplicate" or an error class.
func RecordSubmission(kind, outcome string) {
	if !enabled {
		return
	}
	submissionsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordClassification counts an oracle call by prediction label or "unavailable".
func RecordClassification(outcome string) {
	if !enabled {
		return
	}
	classifierRequests.WithLabelValues(outcome).Inc()
}

// RecordChainTransaction counts a contract transaction and observes its gas.
func RecordChainTransaction(contract, method, outcome string, gasUsed uint64) {
	if !enabled {
		return
	}
	chainTransactionsTotal.WithLabelValues(contract, method, outcome).Inc()
	if gasUsed > 0 {
		chainGasUsed.WithLabelValues(method).Observe(float64(gasUsed))
	}
}

// RecordStatusChange counts a verify or reject attempt.
func RecordStatusChange(status, outcome string) {
	if !enabled {
		return
	}
	statusChangesTotal.WithLabelValues(status, outcome).Inc()
}

// RecordProjected counts ledger records projected for listing.
func RecordProjected(n int) {
	if !enabled {
		return
	}
	projectedReports.Add(float64(n))
}
