// Package server implements the real-time relay behind roomchat.
//
// Connections join a room through /ws. The Registry tracks them per room,
// the Directory owns room metadata and its authorization rules, the Presence
// tracker derives online and typing sets, and the Hub persists messages
// through a store.MessageStore before fanning them out. Room management is
// exposed over plain HTTP under /rooms.
package server
