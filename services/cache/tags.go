package cache

import (
	"context"
	"fmt"
)

// Tag names a read model. Every cached value is stored under one or more tags
// and dropped when one of them is invalidated.
type Tag string

// Mutation is the entity type a handler just wrote.
type Mutation string

const (
	MutationSubscription      Mutation = "subscription"
	MutationCommissionRequest Mutation = "commission_request"
	MutationCommissionType    Mutation = "commission_type"
	MutationTier              Mutation = "tier"
	MutationPost              Mutation = "post"
)

// Scope carries the ids a mutation touched. Empty ids are skipped.
type Scope struct {
	UserID    string
	CreatorID string
}

func UserSubscriptionsTag(userID string) Tag {
	return Tag(fmt.Sprintf("subscriptions:user:%s", userID))
}

func CreatorSubscribersTag(creatorID string) Tag {
	return Tag(fmt.Sprintf("subscribers:creator:%s", creatorID))
}

func CreatorTiersTag(creatorID string) Tag {
	return Tag(fmt.Sprintf("tiers:creator:%s", creatorID))
}

func CustomerCommissionsTag(customerID string) Tag {
	return Tag(fmt.Sprintf("commissions:customer:%s", customerID))
}

func CreatorCommissionsTag(creatorID string) Tag {
	return Tag(fmt.Sprintf("commissions:creator:%s", creatorID))
}

func CreatorCommissionTypesTag(creatorID string) Tag {
	return Tag(fmt.Sprintf("commission-types:creator:%s", creatorID))
}

func CreatorPostsTag(creatorID string) Tag {
	return Tag(fmt.Sprintf("posts:creator:%s", creatorID))
}

type tagRule struct {
	byUser    []func(string) Tag
	byCreator []func(string) Tag
}

var registry = map[Mutation]tagRule{
	MutationSubscription: {
		byUser:    []func(string) Tag{UserSubscriptionsTag},
		byCreator: []func(string) Tag{CreatorSubscribersTag},
	},
	MutationCommissionRequest: {
		byUser:    []func(string) Tag{CustomerCommissionsTag},
		byCreator: []func(string) Tag{CreatorCommissionsTag},
	},
	MutationCommissionType: {
		byCreator: []func(string) Tag{CreatorCommissionTypesTag},
	},
	MutationTier: {
		byCreator: []func(string) Tag{CreatorTiersTag, CreatorSubscribersTag},
	},
	MutationPost: {
		byCreator: []func(string) Tag{CreatorPostsTag},
	},
}

// TagsFor lists the read-model tags affected by a mutation.
func TagsFor(m Mutation, scope Scope) []Tag {
	rule, ok := registry[m]
	if !ok {
		return nil
	}
	var tags []Tag
	if scope.UserID != "" {
		for _, fn := range rule.byUser {
			tags = append(tags, fn(scope.UserID))
		}
	}
	if scope.CreatorID != "" {
		for _, fn := range rule.byCreator {
			tags = append(tags, fn(scope.CreatorID))
		}
	}
	return tags
}

// Invalidate drops every cached value depending on the mutated entity. A
// cache failure is logged and never fails the caller.
func Invalidate(ctx context.Context, m Mutation, scope Scope) {
	tags := TagsFor(m, scope)
	if len(tags) == 0 {
		return
	}
	if err := current().InvalidateTags(ctx, tags...); err != nil {
		logError(err, fmt.Sprintf("cache invalidation failed for %s", m))
	}
}
