package nodes

/*
Cluster membership of a backend node is reported by a hasocket.MembershipSource.  A source knows the identity and
role of the local node, discovers the other members, and informs its subscribers (typically the node server, which
turns the events into availability broadcasts) when members become available, change role, or go away.

Two sources exist:
- a static source, which only ever knows about the local node.
- a Redis source, which heartbeats over Redis PubSub and expires members which stop heartbeating.

Note that we're not trying to solve leader election here.  Roles are configured, or changed through the admin
endpoint, and the sources only spread the word.
*/
