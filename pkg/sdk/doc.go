// Package imgdex embeds the imgdex image retrieval engine in a Go program.
//
// The client owns a small image corpus: Put stores an image and indexes it
// right away, Remove retires it. Searches are always scoped to one team.
//
//	client, _ := imgdex.New(ctx, imgdex.WithFakeEmbedder())
//	defer client.Close()
//
//	_ = client.Put(ctx, imgdex.Image{ID: "img-1", TeamID: "acme", Tags: []string{"cat"}, Data: png})
//
//	page, _ := client.Search("acme").Text(ctx, "a cat on a sofa", imgdex.PageSize(10))
//	page, _ = client.Search("acme").Similar(ctx, "img-1", imgdex.Tags("cat"))
//	page, _ = client.Search("acme").Tags(ctx, []string{"cat", "dog"})
//
// Without WithRedis everything lives in process memory.
package imgdex
