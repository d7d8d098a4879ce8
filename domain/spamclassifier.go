// SPDX-License-Identifier: GPL-3.0-or-later

//go:generate mockgen -destination=mocks/spamclassifier.go -package=mocks . SpamReporter
package domain

type LearnType string

const (
	LearnSpam = LearnType("spam")
	LearnHam  = LearnType("ham")
)

// SpamReporter teaches an external classifier about a message the user
// marked by hand.
type SpamReporter interface {
	Learn(learnType LearnType, rawMail []byte) error
}
