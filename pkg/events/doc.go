// Package events provides a fan-out broker for cluster lifecycle
// events. Subscribers get a buffered channel; slow subscribers drop
// events rather than block publishers.
package events
