// Package core provides the domain types shared by every memorymesh package:
//
//   - Message, a closed sum type over system, human, assistant and tool-result entries
//   - ConversationState with merge-by-id updates and tombstone removals
//   - MemoryRecord and the MemoryStore / CheckpointStore persistence contracts
//
// Implementations live in sibling packages (memory, session, engine) so the
// types here stay free of storage and transport concerns.
package core
