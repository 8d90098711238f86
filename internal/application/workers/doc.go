// Package workers bounds agent execution across the whole process.
//
// The Limiter is a counting permit pool shared by every task run: a node
// holds one permit for the duration of each sandbox attempt. The health
// monitor periodically logs limiter utilisation and records it as metrics.
package workers
